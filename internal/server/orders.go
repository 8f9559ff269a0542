package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
)

type createOrderRequest struct {
	CustomerID       string                  `json:"customer_id"`
	Items            []orderdomain.ItemInput `json:"items"`
	ShippingCost     int64                   `json:"shipping_cost"`
	CouponInstanceID string                  `json:"coupon_instance_id"`
	Donation         int64                   `json:"donation"`
	PaymentMethod    string                  `json:"payment_method"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	actor, _ := actorFromContext(c)
	if !canAddressCustomer(actor, req.CustomerID) {
		AbortWithError(c, ErrForbidden)
		return
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateOrderRequest{
		CustomerID:       strings.TrimSpace(req.CustomerID),
		Items:            req.Items,
		ShippingCost:     req.ShippingCost,
		CouponInstanceID: strings.TrimSpace(req.CouponInstanceID),
		Donation:         req.Donation,
		PaymentMethod:    strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	order, ok := s.loadOwnedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListCustomerOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.ListForCustomer(c.Request.Context(), orderdomain.ListOrdersRequest{
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
		Status:     strings.TrimSpace(query.Status),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	resp, err := s.orderSvc.ConfirmPayment(c.Request.Context(), strings.TrimSpace(c.Param("order_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) FinalizeOrder(c *gin.Context) {
	resp, err := s.orderSvc.Finalize(c.Request.Context(), strings.TrimSpace(c.Param("order_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// bindOptionalJSON tolerates an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return false
	}
	return true
}

func (s *Server) CancelOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	order, ok := s.loadOwnedOrder(c)
	if !ok {
		return
	}

	resp, err := s.orderSvc.Cancel(c.Request.Context(), order.ID.String(), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReverseOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	resp, err := s.orderSvc.Reverse(c.Request.Context(), strings.TrimSpace(c.Param("order_id")), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type deliveryRequest struct {
	Status string `json:"status"`
}

func (s *Server) AdvanceDelivery(c *gin.Context) {
	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.AdvanceDelivery(c.Request.Context(), strings.TrimSpace(c.Param("order_id")), orderdomain.DeliveryStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type bulkRequest struct {
	OrderIDs []string `json:"order_ids"`
	Reason   string   `json:"reason"`
	Status   string   `json:"status"`
}

func (s *Server) BulkConfirmPayment(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.orderSvc.BulkConfirmPayment(c.Request.Context(), req.OrderIDs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkCancel(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.orderSvc.BulkCancel(c.Request.Context(), req.OrderIDs, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkAdvanceDelivery(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.orderSvc.BulkAdvanceDelivery(c.Request.Context(), req.OrderIDs, orderdomain.DeliveryStatus(strings.TrimSpace(req.Status)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// loadOwnedOrder answers 404 rather than 403 when a customer asks for
// someone else's order.
func (s *Server) loadOwnedOrder(c *gin.Context) (orderdomain.Order, bool) {
	order, err := s.orderSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("order_id")))
	if err != nil {
		AbortWithError(c, err)
		return orderdomain.Order{}, false
	}
	actor, _ := actorFromContext(c)
	if !canAddressCustomer(actor, order.CustomerID.String()) {
		AbortWithError(c, orderdomain.ErrNotFound)
		return orderdomain.Order{}, false
	}
	return order, true
}
