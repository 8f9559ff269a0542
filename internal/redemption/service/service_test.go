package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/storefront-ledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/storefront-ledger/internal/audit/service"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	couponrepo "github.com/smallbiznis/storefront-ledger/internal/coupon/repository"
	couponservice "github.com/smallbiznis/storefront-ledger/internal/coupon/service"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	customerrepo "github.com/smallbiznis/storefront-ledger/internal/customer/repository"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/storefront-ledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/storefront-ledger/internal/ledger/service"
	"github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	"github.com/smallbiznis/storefront-ledger/internal/testkit"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	svc    domain.Service
	ledger ledgerdomain.Service
	audit  auditdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t)
	node := testkit.Node(t)
	clk := testkit.Clock()
	log := zap.NewNop()
	loyalty := testkit.Loyalty()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: ledgerrepo.Provide(), Customers: customerrepo.Provide(),
	})
	couponSvc := couponservice.New(couponservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Loyalty: loyalty, Repo: couponrepo.Provide(),
	})
	svc := New(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Loyalty: loyalty,
		LedgerSvc: ledgerSvc, CouponSvc: couponSvc, AuditSvc: auditSvc,
	})
	return fixture{db: db, node: node, svc: svc, ledger: ledgerSvc, audit: auditSvc}
}

// customer creates a profile holding points through a real ledger entry so
// reconciliation stays consistent.
func (f fixture) customer(t *testing.T, points int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:           id,
		Name:         "Nina",
		Email:        fmt.Sprintf("nina+%s@example.com", id),
		ReferralCode: "NINA-" + id.Base36(),
		CreatedAt:    testkit.Epoch,
		UpdatedAt:    testkit.Epoch,
	}).Error)
	if points > 0 {
		require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
			_, err := f.ledger.Post(context.Background(), tx, ledgerdomain.PostRequest{
				CustomerID: id,
				Postings:   []ledgerdomain.Posting{{Delta: points, Operation: ledgerdomain.OperationAccrual, Reason: "seed"}},
			})
			return err
		}))
	}
	return id
}

func (f fixture) coupons(t *testing.T, customerID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&coupondomain.Instance{}).Where("customer_id = ?", customerID).Count(&n).Error)
	return n
}

func TestRedeemDebitsAndIssuesCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, 600)
	rule, err := f.svc.CreateRule(ctx, domain.CreateRuleRequest{
		Name: "R$10 off", PointsCost: 500, DiscountValue: 1000, MinOrderValue: 5000,
	})
	require.NoError(t, err)

	resp, err := f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: customerID.String(), RuleID: rule.ID.String()})
	require.NoError(t, err)
	assert.EqualValues(t, 500, resp.PointsSpent)
	assert.EqualValues(t, 100, resp.Balance)
	assert.Equal(t, customerID, resp.Coupon.CustomerID)
	assert.EqualValues(t, 1000, resp.Coupon.DiscountValue)
	assert.EqualValues(t, 5000, resp.Coupon.MinOrderValue)
	assert.False(t, resp.Coupon.IsUsed)

	history, err := f.ledger.History(ctx, ledgerdomain.ListEntriesRequest{
		CustomerID: customerID.String(), Operation: string(ledgerdomain.OperationRedemption),
	})
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.EqualValues(t, -500, history.Entries[0].Delta)
	assert.Equal(t, rule.ID.String(), history.Entries[0].Metadata["rule_id"])

	_, err = f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: customerID.String(), RuleID: rule.ID.String()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInsufficientPoints))
	assert.EqualValues(t, 1, f.coupons(t, customerID))

	balance, err := f.ledger.Balance(ctx, customerID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, balance)

	rec, err := f.ledger.Reconcile(ctx, customerID.String())
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
}

func TestConcurrentRedeemSpendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, 500)
	rule, err := f.svc.CreateRule(ctx, domain.CreateRuleRequest{Name: "Brinde", PointsCost: 500, DiscountValue: 800})
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: customerID.String(), RuleID: rule.ID.String()})
		}(i)
	}
	wg.Wait()

	var succeeded, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, fault.ErrInsufficientPoints):
			refused++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)
	assert.EqualValues(t, 1, f.coupons(t, customerID))

	rec, err := f.ledger.Reconcile(ctx, customerID.String())
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.Zero(t, rec.LedgerSum)
}

func TestRedeemRejectsInactiveAndUnknownRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, 5000)
	rule, err := f.svc.CreateRule(ctx, domain.CreateRuleRequest{Name: "Frete", PointsCost: 300, DiscountValue: 1500})
	require.NoError(t, err)

	off, err := f.svc.SetRuleActive(ctx, rule.ID.String(), false)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	_, err = f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: customerID.String(), RuleID: rule.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrRuleInactive))

	_, err = f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: customerID.String(), RuleID: f.node.Generate().String()})
	assert.True(t, errors.Is(err, domain.ErrRuleNotFound))

	_, err = f.svc.Redeem(ctx, domain.RedeemRequest{CustomerID: "x", RuleID: rule.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrInvalidCustomer))

	balance, err := f.ledger.Balance(ctx, customerID)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, balance)
	assert.Zero(t, f.coupons(t, customerID))
}

func TestRuleAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRule(ctx, domain.CreateRuleRequest{Name: "bad", PointsCost: 0, DiscountValue: 100})
	assert.True(t, errors.Is(err, domain.ErrInvalidRule))

	cheap, err := f.svc.CreateRule(ctx, domain.CreateRuleRequest{Name: "cheap", PointsCost: 100, DiscountValue: 200})
	require.NoError(t, err)
	_, err = f.svc.CreateRule(ctx, domain.CreateRuleRequest{Name: "pricey", PointsCost: 900, DiscountValue: 2000})
	require.NoError(t, err)
	_, err = f.svc.SetRuleActive(ctx, cheap.ID.String(), false)
	require.NoError(t, err)

	all, err := f.svc.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cheap", all[0].Name)

	active, err := f.svc.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "pricey", active[0].Name)

	_, err = f.svc.SetRuleActive(ctx, f.node.Generate().String(), true)
	assert.True(t, errors.Is(err, domain.ErrRuleNotFound))

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{TargetType: "redemption_rule"})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 3)
}
