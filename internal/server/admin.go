package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	redemptiondomain "github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
)

type adjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

func (s *Server) AdjustPoints(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	actor, _ := actorFromContext(c)

	resp, err := s.ledgerSvc.Adjust(c.Request.Context(), ledgerdomain.AdjustRequest{
		CustomerID: strings.TrimSpace(c.Param("customer_id")),
		Delta:      req.Delta,
		Reason:     strings.TrimSpace(req.Reason),
		ActorID:    actor.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reconcileView struct {
	ledgerdomain.Reconciliation
	Consistent bool `json:"consistent"`
}

// ReconcileCustomer reports a mismatch as data; it is the answer the
// operator asked for, not a server failure.
func (s *Server) ReconcileCustomer(c *gin.Context) {
	rec, err := s.ledgerSvc.Reconcile(c.Request.Context(), strings.TrimSpace(c.Param("customer_id")))
	if err != nil && !errors.Is(err, fault.ErrConsistency) {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reconcileView{Reconciliation: rec, Consistent: rec.Consistent()}})
}

func (s *Server) ReconcileAll(c *gin.Context) {
	resp, err := s.ledgerSvc.ReconcileAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCoupons(c *gin.Context) {
	req, ok := bindCouponQuery(c)
	if !ok {
		return
	}
	resp, err := s.couponSvc.ListAll(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteCoupon(c *gin.Context) {
	resp, err := s.couponSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("coupon_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCouponDefinitions(c *gin.Context) {
	resp, err := s.couponSvc.ListDefinitions(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateCouponDefinition(c *gin.Context) {
	var req coupondomain.UpdateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.couponSvc.UpdateDefinition(c.Request.Context(), strings.TrimSpace(c.Param("definition_id")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAllRules(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}
	resp, err := s.redemptionSvc.ListRules(c.Request.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateRule(c *gin.Context) {
	var req redemptiondomain.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.redemptionSvc.CreateRule(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ActivateRule(c *gin.Context) {
	s.setRuleActive(c, true)
}

func (s *Server) DeactivateRule(c *gin.Context) {
	s.setRuleActive(c, false)
}

func (s *Server) setRuleActive(c *gin.Context, active bool) {
	resp, err := s.redemptionSvc.SetRuleActive(c.Request.Context(), strings.TrimSpace(c.Param("rule_id")), active)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBonusSettings(c *gin.Context) {
	resp, err := s.bonusSvc.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateBonusSettings(c *gin.Context) {
	var req map[string]int64
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.bonusSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type tierRequest struct {
	Name             string  `json:"name"`
	MinSpend         int64   `json:"min_spend"`
	MaxSpend         *int64  `json:"max_spend"`
	PointsMultiplier float64 `json:"points_multiplier"`
}

func (s *Server) ReplaceTiers(c *gin.Context) {
	var req struct {
		Tiers []tierRequest `json:"tiers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inputs := make([]tierdomain.TierInput, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		inputs = append(inputs, tierdomain.TierInput{
			Name:             strings.TrimSpace(t.Name),
			MinSpend:         t.MinSpend,
			MaxSpend:         t.MaxSpend,
			PointsMultiplier: t.PointsMultiplier,
		})
	}

	resp, err := s.tierSvc.Replace(c.Request.Context(), inputs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
		StartAt    string `form:"start_at"`
		EndAt      string `form:"end_at"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}
	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		ActorType:  strings.TrimSpace(query.ActorType),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
