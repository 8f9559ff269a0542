package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront-ledger/internal/accrual"
	"github.com/smallbiznis/storefront-ledger/internal/audit"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/authorization"
	"github.com/smallbiznis/storefront-ledger/internal/bonus"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/coupon"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	"github.com/smallbiznis/storefront-ledger/internal/customer"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	"github.com/smallbiznis/storefront-ledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/storefront-ledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront-ledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/storefront-ledger/internal/observability/tracing"
	"github.com/smallbiznis/storefront-ledger/internal/order"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/internal/redemption"
	redemptiondomain "github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	"github.com/smallbiznis/storefront-ledger/internal/tier"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	customer.Module,
	ledger.Module,
	tier.Module,
	bonus.Module,
	coupon.Module,
	accrual.Module,
	redemption.Module,
	order.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obsCfg.TraceSkipRoutes...))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	customerSvc   customerdomain.Service
	orderSvc      orderdomain.Service
	ledgerSvc     ledgerdomain.Service
	couponSvc     coupondomain.Service
	redemptionSvc redemptiondomain.Service
	bonusSvc      bonusdomain.Service
	tierSvc       tierdomain.Service
	redeemLimiter *cache.RedeemLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	CustomerSvc   customerdomain.Service
	OrderSvc      orderdomain.Service
	LedgerSvc     ledgerdomain.Service
	CouponSvc     coupondomain.Service
	RedemptionSvc redemptiondomain.Service
	BonusSvc      bonusdomain.Service
	TierSvc       tierdomain.Service
	RedeemLimiter *cache.RedeemLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		customerSvc:   p.CustomerSvc,
		orderSvc:      p.OrderSvc,
		ledgerSvc:     p.LedgerSvc,
		couponSvc:     p.CouponSvc,
		redemptionSvc: p.RedemptionSvc,
		bonusSvc:      p.BonusSvc,
		tierSvc:       p.TierSvc,
		redeemLimiter: p.RedeemLimiter,
		obsMetrics:    p.ObsMetrics,
	}
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.ActorRequired())

	// -------- Orders --------
	api.POST("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionOrderCreate), s.CreateOrder)
	api.GET("/orders/:order_id", s.authorize(authorization.ObjectOrder, authorization.ActionOrderView), s.GetOrder)
	api.POST("/orders/:order_id/confirm-payment", s.authorize(authorization.ObjectOrder, authorization.ActionOrderConfirm), s.ConfirmPayment)
	api.POST("/orders/:order_id/finalize", s.authorize(authorization.ObjectOrder, authorization.ActionOrderFinalize), s.FinalizeOrder)
	api.POST("/orders/:order_id/cancel", s.authorize(authorization.ObjectOrder, authorization.ActionOrderCancel), s.CancelOrder)
	api.POST("/orders/:order_id/reverse", s.authorize(authorization.ObjectOrder, authorization.ActionOrderReverse), s.ReverseOrder)
	api.POST("/orders/:order_id/delivery", s.authorize(authorization.ObjectOrder, authorization.ActionOrderDelivery), s.AdvanceDelivery)

	// -------- Customers --------
	api.POST("/customers", s.authorize(authorization.ObjectCustomer, authorization.ActionCustomerCreate), s.CreateCustomer)
	customers := api.Group("/customers/:customer_id", s.OwnCustomerOnly())
	{
		customers.GET("", s.authorize(authorization.ObjectCustomer, authorization.ActionCustomerView), s.GetCustomer)
		customers.PUT("/birthday", s.authorize(authorization.ObjectCustomer, authorization.ActionCustomerBirthday), s.RegisterBirthday)
		customers.GET("/standing", s.authorize(authorization.ObjectCustomer, authorization.ActionCustomerView), s.GetStanding)
		customers.GET("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionOrderView), s.ListCustomerOrders)
		customers.GET("/ledger", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerView), s.ListLedgerEntries)
		customers.GET("/coupons", s.authorize(authorization.ObjectCoupon, authorization.ActionCouponView), s.ListCustomerCoupons)
		customers.POST("/redemptions", s.authorize(authorization.ObjectCoupon, authorization.ActionCouponRedeem), s.RedeemRateLimit(), s.Redeem)
	}

	// -------- Catalog --------
	api.GET("/redemption-rules", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleView), s.ListActiveRules)
	api.GET("/tiers", s.authorize(authorization.ObjectTier, authorization.ActionTierView), s.ListTiers)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.ActorRequired())
	admin.Use(s.AdminOnly())

	// -------- Orders --------
	admin.POST("/orders/bulk/confirm-payment", s.authorize(authorization.ObjectOrder, authorization.ActionOrderBulk), s.BulkConfirmPayment)
	admin.POST("/orders/bulk/cancel", s.authorize(authorization.ObjectOrder, authorization.ActionOrderBulk), s.BulkCancel)
	admin.POST("/orders/bulk/delivery", s.authorize(authorization.ObjectOrder, authorization.ActionOrderBulk), s.BulkAdvanceDelivery)

	// -------- Ledger --------
	admin.POST("/customers/:customer_id/adjustments", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerAdjust), s.AdjustPoints)
	admin.GET("/customers/:customer_id/reconcile", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerReconcile), s.ReconcileCustomer)
	admin.POST("/reconcile", s.authorize(authorization.ObjectLedger, authorization.ActionLedgerReconcile), s.ReconcileAll)

	// -------- Coupons --------
	admin.GET("/coupons", s.authorize(authorization.ObjectCoupon, authorization.ActionCouponView), s.ListCoupons)
	admin.DELETE("/coupons/:coupon_id", s.authorize(authorization.ObjectCoupon, authorization.ActionCouponDelete), s.DeleteCoupon)
	admin.GET("/coupon-definitions", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleView), s.ListCouponDefinitions)
	admin.PATCH("/coupon-definitions/:definition_id", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleManage), s.UpdateCouponDefinition)

	// -------- Redemption rules --------
	admin.GET("/redemption-rules", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleView), s.ListAllRules)
	admin.POST("/redemption-rules", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleManage), s.CreateRule)
	admin.POST("/redemption-rules/:rule_id/activate", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleManage), s.ActivateRule)
	admin.POST("/redemption-rules/:rule_id/deactivate", s.authorize(authorization.ObjectRedemptionRule, authorization.ActionRuleManage), s.DeactivateRule)

	// -------- Settings --------
	admin.GET("/bonus-settings", s.authorize(authorization.ObjectBonusSettings, authorization.ActionBonusView), s.GetBonusSettings)
	admin.PUT("/bonus-settings", s.authorize(authorization.ObjectBonusSettings, authorization.ActionBonusManage), s.UpdateBonusSettings)
	admin.GET("/tiers", s.authorize(authorization.ObjectTier, authorization.ActionTierView), s.ListTiers)
	admin.PUT("/tiers", s.authorize(authorization.ObjectTier, authorization.ActionTierManage), s.ReplaceTiers)

	// -------- Audit --------
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
