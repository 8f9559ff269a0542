package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
)

type createCustomerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Create(c.Request.Context(), customerdomain.CreateCustomerRequest{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(req.Email),
		ReferralCode: strings.TrimSpace(req.ReferralCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetCustomer(c *gin.Context) {
	resp, err := s.customerSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("customer_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type birthdayRequest struct {
	Birthday string `json:"birthday"`
}

func (s *Server) RegisterBirthday(c *gin.Context) {
	var req birthdayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	birthday, err := parseDate(req.Birthday)
	if err != nil {
		AbortWithError(c, customerdomain.ErrInvalidBirthday)
		return
	}

	resp, err := s.customerSvc.RegisterBirthday(c.Request.Context(), customerdomain.RegisterBirthdayRequest{
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
		Birthday:   birthday,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetStanding(c *gin.Context) {
	resp, err := s.customerSvc.Standing(c.Request.Context(), strings.TrimSpace(c.Param("customer_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Operation string `form:"operation"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
		Operation:  strings.TrimSpace(query.Operation),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomerCoupons(c *gin.Context) {
	req, ok := bindCouponQuery(c)
	if !ok {
		return
	}
	req.CustomerID = strings.TrimSpace(c.Param("customer_id"))

	resp, err := s.couponSvc.ListForCustomer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func bindCouponQuery(c *gin.Context) (coupondomain.ListRequest, bool) {
	var query struct {
		pagination.Pagination
		CustomerID      string `form:"customer_id"`
		Used            string `form:"used"`
		IncludeArchived string `form:"include_archived"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return coupondomain.ListRequest{}, false
	}
	used, err := parseOptionalBool(query.Used)
	if err != nil {
		AbortWithError(c, newValidationError("used", "invalid_used", "invalid used"))
		return coupondomain.ListRequest{}, false
	}
	archived, err := parseOptionalBool(query.IncludeArchived)
	if err != nil {
		AbortWithError(c, newValidationError("include_archived", "invalid_include_archived", "invalid include_archived"))
		return coupondomain.ListRequest{}, false
	}

	return coupondomain.ListRequest{
		CustomerID:      strings.TrimSpace(query.CustomerID),
		Used:            used,
		IncludeArchived: archived != nil && *archived,
		PageToken:       query.PageToken,
		PageSize:        int32(query.PageSize),
	}, true
}

type redeemRequest struct {
	RuleID string `json:"rule_id"`
}

func (s *Server) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.redemptionSvc.Redeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
		RuleID:     strings.TrimSpace(req.RuleID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListActiveRules(c *gin.Context) {
	resp, err := s.redemptionSvc.ListRules(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTiers(c *gin.Context) {
	resp, err := s.tierSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
