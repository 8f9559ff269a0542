package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accrualrepo "github.com/smallbiznis/storefront-ledger/internal/accrual/repository"
	accrualservice "github.com/smallbiznis/storefront-ledger/internal/accrual/service"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/storefront-ledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/storefront-ledger/internal/audit/service"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	bonusrepo "github.com/smallbiznis/storefront-ledger/internal/bonus/repository"
	bonusservice "github.com/smallbiznis/storefront-ledger/internal/bonus/service"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	coupondomain "github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	couponrepo "github.com/smallbiznis/storefront-ledger/internal/coupon/repository"
	couponservice "github.com/smallbiznis/storefront-ledger/internal/coupon/service"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	customerrepo "github.com/smallbiznis/storefront-ledger/internal/customer/repository"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/storefront-ledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/storefront-ledger/internal/ledger/service"
	"github.com/smallbiznis/storefront-ledger/internal/order/domain"
	orderrepo "github.com/smallbiznis/storefront-ledger/internal/order/repository"
	"github.com/smallbiznis/storefront-ledger/internal/testkit"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	tierrepo "github.com/smallbiznis/storefront-ledger/internal/tier/repository"
	tierservice "github.com/smallbiznis/storefront-ledger/internal/tier/service"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	svc     domain.Service
	ledger  ledgerdomain.Service
	coupons coupondomain.Service
	bonus   bonusdomain.Service
	tiers   tierdomain.Service
	audit   auditdomain.Service
}

func newFixture(t *testing.T, overrides ...func(*config.LoyaltyConfig)) fixture {
	t.Helper()
	db := testkit.OpenDB(t)
	node := testkit.Node(t)
	clk := testkit.Clock()
	log := zap.NewNop()
	loyalty := testkit.Loyalty(overrides...)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: ledgerrepo.Provide(), Customers: customerrepo.Provide(),
	})
	tierSvc := tierservice.New(tierservice.Params{DB: db, Log: log, GenID: node, Repo: tierrepo.Provide()})
	bonusSvc := bonusservice.New(bonusservice.Params{DB: db, Log: log, Repo: bonusrepo.Provide()})
	couponSvc := couponservice.New(couponservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Loyalty: loyalty, Repo: couponrepo.Provide(),
	})
	accrualSvc := accrualservice.New(accrualservice.Params{
		Log: log, Clock: clk, Loyalty: loyalty, Repo: accrualrepo.Provide(),
		Customers: customerrepo.Provide(), LedgerSvc: ledgerSvc, TierSvc: tierSvc, BonusSvc: bonusSvc,
	})
	svc := New(Params{
		DB: db, Log: log, GenID: node, Clock: clk, Loyalty: loyalty,
		Repo: orderrepo.Provide(), Customers: customerrepo.Provide(),
		CouponSvc: couponSvc, AccrualSvc: accrualSvc, LedgerSvc: ledgerSvc, AuditSvc: auditSvc,
	})
	return fixture{
		db: db, node: node, clock: clk, svc: svc,
		ledger: ledgerSvc, coupons: couponSvc, bonus: bonusSvc, tiers: tierSvc, audit: auditSvc,
	}
}

func i64(v int64) *int64 { return &v }

// ladder installs a single 1.0 tier plus a higher one out of reach.
func (f fixture) ladder(t *testing.T) {
	t.Helper()
	_, err := f.tiers.Replace(context.Background(), []tierdomain.TierInput{
		{Name: "Bronze", MinSpend: 0, MaxSpend: i64(99999), PointsMultiplier: 1},
		{Name: "Prata", MinSpend: 100000, PointsMultiplier: 1.5},
	})
	require.NoError(t, err)
}

func (f fixture) settings(t *testing.T, values map[string]int64) {
	t.Helper()
	_, err := f.bonus.Update(context.Background(), values)
	require.NoError(t, err)
}

func (f fixture) customer(t *testing.T, referredBy *snowflake.ID) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:           id,
		Name:         "Rita",
		Email:        fmt.Sprintf("rita+%s@example.com", id),
		ReferralCode: "RITA-" + id.Base36(),
		ReferredBy:   referredBy,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}).Error)
	return id
}

func (f fixture) coupon(t *testing.T, customerID snowflake.ID, discount, minOrder int64) coupondomain.Instance {
	t.Helper()
	var inst coupondomain.Instance
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		def, err := f.coupons.EnsureDefinition(context.Background(), tx, coupondomain.DefinitionSpec{
			RedemptionRuleID: snowflake.ID(discount*10 + minOrder),
			Name:             "Cupom",
			DiscountValue:    discount,
			MinOrderValue:    minOrder,
			PointsCost:       100,
		})
		if err != nil {
			return err
		}
		inst, err = f.coupons.Issue(context.Background(), tx, def, customerID)
		return err
	}))
	return inst
}

func (f fixture) instance(t *testing.T, id snowflake.ID) coupondomain.Instance {
	t.Helper()
	var inst coupondomain.Instance
	require.NoError(t, f.db.First(&inst, "id = ?", id).Error)
	return inst
}

func (f fixture) place(t *testing.T, customerID snowflake.ID, amount int64) domain.Order {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerID: customerID.String(),
		Items:      []domain.ItemInput{{Name: "Camiseta", UnitPrice: amount, Quantity: 1}},
	})
	require.NoError(t, err)
	return resp.Order
}

func (f fixture) balance(t *testing.T, customerID snowflake.ID) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), customerID)
	require.NoError(t, err)
	return balance
}

func (f fixture) entries(t *testing.T, orderID snowflake.ID, op ledgerdomain.Operation) []ledgerdomain.Entry {
	t.Helper()
	entries, err := f.ledger.EntriesForOrder(context.Background(), nil, orderID, op)
	require.NoError(t, err)
	return entries
}

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture(t)
	customerID := f.customer(t, nil)
	inst := f.coupon(t, customerID, 1000, 5000)

	resp, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerID: customerID.String(),
		Items: []domain.ItemInput{
			{Name: "Caneca", UnitPrice: 2500, Quantity: 2},
			{Name: " Camiseta ", UnitPrice: 4000, Quantity: 1},
		},
		ShippingCost:     1500,
		Donation:         200,
		CouponInstanceID: inst.ID.String(),
		PaymentMethod:    "pix",
	})
	require.NoError(t, err)
	order := resp.Order
	assert.False(t, resp.CouponDropped)
	assert.Equal(t, domain.PaymentPending, order.Status)
	assert.Equal(t, domain.DeliveryPending, order.DeliveryStatus)
	assert.EqualValues(t, 9000, order.Subtotal)
	assert.EqualValues(t, 1000, order.CouponDiscount)
	assert.EqualValues(t, 8000, order.NetValue)
	assert.EqualValues(t, 9700, order.Total)
	require.NotNil(t, order.CouponInstanceID)
	assert.Equal(t, inst.ID, *order.CouponInstanceID)

	got, err := f.svc.Get(context.Background(), order.ID.String())
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Camiseta", got.Items[1].Name)
	assert.Equal(t, "pix", got.PaymentMethod)

	// The coupon is reserved by the pending order.
	_, err = f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerID:       customerID.String(),
		Items:            []domain.ItemInput{{Name: "Caneca", UnitPrice: 9000, Quantity: 1}},
		CouponInstanceID: inst.ID.String(),
	})
	assert.True(t, errors.Is(err, coupondomain.ErrReserved))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	customerID := f.customer(t, nil).String()
	item := []domain.ItemInput{{Name: "Caneca", UnitPrice: 100, Quantity: 1}}

	cases := []struct {
		name string
		req  domain.CreateOrderRequest
		want error
	}{
		{"bad customer", domain.CreateOrderRequest{CustomerID: "abc", Items: item}, domain.ErrInvalidCustomer},
		{"no items", domain.CreateOrderRequest{CustomerID: customerID}, domain.ErrEmptyItems},
		{"negative shipping", domain.CreateOrderRequest{CustomerID: customerID, Items: item, ShippingCost: -1}, domain.ErrInvalidAmount},
		{"line overflows", domain.CreateOrderRequest{CustomerID: customerID, Items: []domain.ItemInput{{Name: "x", UnitPrice: 4e18, Quantity: 3}}}, domain.ErrInvalidAmount},
		{"subtotal overflows", domain.CreateOrderRequest{CustomerID: customerID, Items: []domain.ItemInput{
			{Name: "a", UnitPrice: 5e18, Quantity: 1}, {Name: "b", UnitPrice: 5e18, Quantity: 1},
			{Name: "c", UnitPrice: 5e18, Quantity: 1}, {Name: "d", UnitPrice: 5e18, Quantity: 1},
		}}, domain.ErrInvalidAmount},
		{"zero quantity", domain.CreateOrderRequest{CustomerID: customerID, Items: []domain.ItemInput{{Name: "x", UnitPrice: 1}}}, domain.ErrInvalidItem},
		{"blank item", domain.CreateOrderRequest{CustomerID: customerID, Items: []domain.ItemInput{{Name: " ", UnitPrice: 1, Quantity: 1}}}, domain.ErrInvalidItem},
		{"bad coupon", domain.CreateOrderRequest{CustomerID: customerID, Items: item, CouponInstanceID: "nope"}, coupondomain.ErrInvalidID},
		{"unknown coupon", domain.CreateOrderRequest{CustomerID: customerID, Items: item, CouponInstanceID: f.node.Generate().String()}, coupondomain.ErrInstanceNotFound},
		{"unknown customer", domain.CreateOrderRequest{CustomerID: f.node.Generate().String(), Items: item}, customerdomain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&domain.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateCouponBelowMinimum(t *testing.T) {
	req := func(customerID, couponID snowflake.ID) domain.CreateOrderRequest {
		return domain.CreateOrderRequest{
			CustomerID:       customerID.String(),
			Items:            []domain.ItemInput{{Name: "Caneca", UnitPrice: 4000, Quantity: 1}},
			CouponInstanceID: couponID.String(),
		}
	}

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t)
		customerID := f.customer(t, nil)
		inst := f.coupon(t, customerID, 1000, 5000)

		_, err := f.svc.Create(context.Background(), req(customerID, inst.ID))
		require.Error(t, err)
		assert.True(t, errors.Is(err, coupondomain.ErrBelowMinimum))

		var count int64
		require.NoError(t, f.db.Model(&domain.Order{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("drop", func(t *testing.T) {
		f := newFixture(t, func(c *config.LoyaltyConfig) {
			c.CouponBelowMinimum = config.CouponBelowMinimumDrop
		})
		customerID := f.customer(t, nil)
		inst := f.coupon(t, customerID, 1000, 5000)

		resp, err := f.svc.Create(context.Background(), req(customerID, inst.ID))
		require.NoError(t, err)
		assert.True(t, resp.CouponDropped)
		assert.Nil(t, resp.Order.CouponInstanceID)
		assert.Zero(t, resp.Order.CouponDiscount)
		assert.EqualValues(t, 4000, resp.Order.NetValue)
		assert.EqualValues(t, 4000, resp.Order.Total)
		assert.False(t, f.instance(t, inst.ID).IsUsed)
	})
}

func TestConfirmPaymentAccruesOnce(t *testing.T) {
	f := newFixture(t)
	f.ladder(t)
	f.settings(t, map[string]int64{
		bonusdomain.KeyTicketThreshold:  50000,
		bonusdomain.KeyTicketBonus:      50,
		bonusdomain.KeyRecurrenceBonus2: 20,
	})
	ctx := context.Background()
	customerID := f.customer(t, nil)

	first := f.place(t, customerID, 10000)
	resp, err := f.svc.ConfirmPayment(ctx, first.ID.String())
	require.NoError(t, err)
	assert.False(t, resp.AlreadyPaid)
	assert.EqualValues(t, 100, resp.Points)
	assert.Equal(t, domain.PaymentPaid, resp.Order.Status)
	require.NotNil(t, resp.Order.PaidAt)

	entries := f.entries(t, first.ID, ledgerdomain.OperationAccrual)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 100, entries[0].Delta)
	assert.EqualValues(t, 100, f.balance(t, customerID))

	again, err := f.svc.ConfirmPayment(ctx, first.ID.String())
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)
	assert.Zero(t, again.Points)
	assert.Len(t, f.entries(t, first.ID, ledgerdomain.OperationAccrual), 1)
	assert.EqualValues(t, 100, f.balance(t, customerID))

	f.clock.Advance(time.Hour)
	second := f.place(t, customerID, 60000)
	resp, err = f.svc.ConfirmPayment(ctx, second.ID.String())
	require.NoError(t, err)
	// 600 base, 50 ticket, 20 for the second order this month.
	assert.EqualValues(t, 670, resp.Points)
	assert.Len(t, f.entries(t, second.ID, ledgerdomain.OperationAccrual), 3)
	assert.EqualValues(t, 770, f.balance(t, customerID))

	var c customerdomain.Customer
	require.NoError(t, f.db.First(&c, "id = ?", customerID).Error)
	assert.EqualValues(t, 70000, c.TrailingSpend)

	rec, err := f.ledger.Reconcile(ctx, customerID.String())
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
}

func TestConfirmPaymentConsumesCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	inst := f.coupon(t, customerID, 1000, 5000)

	resp, err := f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerID:       customerID.String(),
		Items:            []domain.ItemInput{{Name: "Caneca", UnitPrice: 10000, Quantity: 1}},
		CouponInstanceID: inst.ID.String(),
	})
	require.NoError(t, err)

	// Past the expiry the reserved coupon is still honoured at payment.
	f.clock.Advance(100 * 24 * time.Hour)
	confirmed, err := f.svc.ConfirmPayment(ctx, resp.Order.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 90, confirmed.Points)

	used := f.instance(t, inst.ID)
	assert.True(t, used.IsUsed)
	require.NotNil(t, used.OrderID)
	assert.Equal(t, resp.Order.ID, *used.OrderID)
}

func TestConfirmPaymentRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, f.customer(t, nil), 1000)
	_, err := f.svc.Cancel(ctx, order.ID.String(), "")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, order.ID.String())
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.True(t, errors.Is(err, fault.ErrInvalidTransition))

	_, err = f.svc.ConfirmPayment(ctx, f.node.Generate().String())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.svc.ConfirmPayment(ctx, "-")
	assert.True(t, errors.Is(err, domain.ErrInvalidID))
}

func TestCancelPendingLeavesCouponReusable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	inst := f.coupon(t, customerID, 1000, 5000)

	req := domain.CreateOrderRequest{
		CustomerID:       customerID.String(),
		Items:            []domain.ItemInput{{Name: "Caneca", UnitPrice: 10000, Quantity: 1}},
		CouponInstanceID: inst.ID.String(),
	}
	resp, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, resp.Order.ID.String(), "  ")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, cancelled.Status)
	assert.Equal(t, "cancelled", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	var entries int64
	require.NoError(t, f.db.Model(&ledgerdomain.Entry{}).Where("order_id = ?", resp.Order.ID).Count(&entries).Error)
	assert.Zero(t, entries)
	assert.False(t, f.instance(t, inst.ID).IsUsed)
	assert.Zero(t, f.balance(t, customerID))

	_, err = f.svc.Cancel(ctx, resp.Order.ID.String(), "")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	again, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, again.Order.CouponInstanceID)
	assert.Equal(t, inst.ID, *again.Order.CouponInstanceID)
}

func TestReversePostsNegatedEntries(t *testing.T) {
	f := newFixture(t)
	f.ladder(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	inst := f.coupon(t, customerID, 1000, 5000)

	created, err := f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerID:       customerID.String(),
		Items:            []domain.ItemInput{{Name: "Caneca", UnitPrice: 10000, Quantity: 1}},
		CouponInstanceID: inst.ID.String(),
	})
	require.NoError(t, err)
	orderID := created.Order.ID.String()
	_, err = f.svc.ConfirmPayment(ctx, orderID)
	require.NoError(t, err)
	assert.EqualValues(t, 90, f.balance(t, customerID))

	_, err = f.svc.Cancel(ctx, orderID, "")
	assert.True(t, errors.Is(err, domain.ErrPaidOrderCancel))

	// Spend most of the points before the reversal arrives.
	_, err = f.ledger.Adjust(ctx, ledgerdomain.AdjustRequest{CustomerID: customerID.String(), Delta: -80, Reason: "support"})
	require.NoError(t, err)

	resp, err := f.svc.Reverse(ctx, orderID, "chargeback")
	require.NoError(t, err)
	assert.EqualValues(t, 90, resp.Reversed)
	assert.EqualValues(t, -80, resp.Balance)
	assert.Equal(t, domain.PaymentCancelled, resp.Order.Status)
	assert.Equal(t, "chargeback", resp.Order.CancelReason)

	reversals := f.entries(t, created.Order.ID, ledgerdomain.OperationReversal)
	require.Len(t, reversals, 1)
	assert.EqualValues(t, -90, reversals[0].Delta)

	assert.True(t, f.instance(t, inst.ID).IsUsed)

	var c customerdomain.Customer
	require.NoError(t, f.db.First(&c, "id = ?", customerID).Error)
	assert.Zero(t, c.TrailingSpend)

	_, err = f.svc.Reverse(ctx, orderID, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	rec, err := f.ledger.Reconcile(ctx, customerID.String())
	require.NoError(t, err)
	assert.True(t, rec.Consistent())

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "order.reverse"})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestReferralBonusOnFirstPaidOrder(t *testing.T) {
	f := newFixture(t)
	f.settings(t, map[string]int64{bonusdomain.KeyReferralBonus: 200})
	ctx := context.Background()
	referrer := f.customer(t, nil)
	referred := f.customer(t, &referrer)

	first := f.place(t, referred, 5000)
	_, err := f.svc.ConfirmPayment(ctx, first.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 200, f.balance(t, referrer))
	assert.EqualValues(t, 50, f.balance(t, referred))

	f.clock.Advance(time.Hour)
	second := f.place(t, referred, 5000)
	_, err = f.svc.ConfirmPayment(ctx, second.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 200, f.balance(t, referrer))

	// Reversing the qualifying order leaves the referrer's bonus alone.
	_, err = f.svc.Reverse(ctx, first.ID.String(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 200, f.balance(t, referrer))
}

func TestAccrualWithoutTiersUsesBaseMultiplier(t *testing.T) {
	f := newFixture(t)
	customerID := f.customer(t, nil)
	order := f.place(t, customerID, 12345)

	resp, err := f.svc.ConfirmPayment(context.Background(), order.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 123, resp.Points)
}

func TestDeliveryAdvancesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, f.customer(t, nil), 3000)
	id := order.ID.String()

	_, err := f.svc.AdvanceDelivery(ctx, id, domain.DeliveryDispatched)
	assert.True(t, errors.Is(err, domain.ErrDispatchUnpaid))

	_, err = f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.AdvanceDelivery(ctx, id, domain.DeliveryDelivered)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	_, err = f.svc.AdvanceDelivery(ctx, id, "Voando")
	assert.True(t, errors.Is(err, domain.ErrInvalidDeliveryStatus))

	got, err := f.svc.AdvanceDelivery(ctx, id, domain.DeliveryDispatched)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDispatched, got.DeliveryStatus)
	got, err = f.svc.AdvanceDelivery(ctx, id, domain.DeliveryDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, got.DeliveryStatus)
	assert.Equal(t, domain.PaymentPaid, got.Status)

	_, err = f.svc.AdvanceDelivery(ctx, id, domain.DeliveryDelivered)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	final, err := f.svc.Finalize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFinalized, final.Status)
	_, err = f.svc.Finalize(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestBulkConfirmReportsPerOrderOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	a := f.place(t, customerID, 1000).ID.String()
	f.clock.Advance(time.Minute)
	b := f.place(t, customerID, 2000).ID.String()
	f.clock.Advance(time.Minute)
	paid := f.place(t, customerID, 3000).ID.String()
	_, err := f.svc.ConfirmPayment(ctx, paid)
	require.NoError(t, err)
	unknown := f.node.Generate().String()

	result, err := f.svc.BulkConfirmPayment(ctx, []string{a, paid, a, "", unknown, b, "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 3, result.Skipped)
	require.Len(t, result.Outcomes, 5)

	want := []domain.BulkOutcome{
		{OrderID: a, Result: domain.OutcomeSucceeded},
		{OrderID: paid, Result: domain.OutcomeSkipped, Code: "already_paid"},
		{OrderID: unknown, Result: domain.OutcomeSkipped, Code: "order_not_found"},
		{OrderID: b, Result: domain.OutcomeSucceeded},
		{OrderID: "x", Result: domain.OutcomeSkipped, Code: "invalid_order_id"},
	}
	for i, w := range want {
		assert.Equal(t, w.OrderID, result.Outcomes[i].OrderID)
		assert.Equal(t, w.Result, result.Outcomes[i].Result)
		assert.Equal(t, w.Code, result.Outcomes[i].Code)
	}
	assert.EqualValues(t, 60, f.balance(t, customerID))

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "order.bulk_confirm_payment"})
	require.NoError(t, err)
	assert.Len(t, logs.AuditLogs, 1)
}

func TestBulkLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkCancel(ctx, []string{" ", ""}, "")
	assert.True(t, errors.Is(err, domain.ErrEmptyBatch))

	ids := make([]string, 501)
	for i := range ids {
		ids[i] = f.node.Generate().String()
	}
	_, err = f.svc.BulkConfirmPayment(ctx, ids)
	assert.True(t, errors.Is(err, domain.ErrBatchTooLarge))

	_, err = f.svc.BulkAdvanceDelivery(ctx, ids[:1], "Voando")
	assert.True(t, errors.Is(err, domain.ErrInvalidDeliveryStatus))
}

func TestBulkCancelAndDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	pending := f.place(t, customerID, 1000).ID.String()
	paid := f.place(t, customerID, 1000).ID.String()
	_, err := f.svc.ConfirmPayment(ctx, paid)
	require.NoError(t, err)

	cancelled, err := f.svc.BulkCancel(ctx, []string{pending, paid}, "stock")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, cancelled.Outcomes[0].Result)
	assert.Equal(t, "paid_order_requires_reversal", cancelled.Outcomes[1].Code)

	dispatched, err := f.svc.BulkAdvanceDelivery(ctx, []string{pending, paid}, domain.DeliveryDispatched)
	require.NoError(t, err)
	assert.Equal(t, "dispatch_requires_payment", dispatched.Outcomes[0].Code)
	assert.Equal(t, domain.OutcomeSucceeded, dispatched.Outcomes[1].Result)
}

func TestListForCustomerPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := f.customer(t, nil)
	other := f.customer(t, nil)
	f.place(t, other, 1000)

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.place(t, customerID, int64(1000*(i+1))).ID)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.ConfirmPayment(ctx, ids[0].String())
	require.NoError(t, err)

	page, err := f.svc.ListForCustomer(ctx, domain.ListOrdersRequest{CustomerID: customerID.String(), PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[2], page.Orders[0].ID)
	assert.Len(t, page.Orders[0].Items, 1)

	rest, err := f.svc.ListForCustomer(ctx, domain.ListOrdersRequest{
		CustomerID: customerID.String(), PageSize: 2, PageToken: page.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Equal(t, ids[0], rest.Orders[0].ID)
	assert.False(t, rest.HasMore)

	paid, err := f.svc.ListForCustomer(ctx, domain.ListOrdersRequest{CustomerID: customerID.String(), Status: "Pago"})
	require.NoError(t, err)
	require.Len(t, paid.Orders, 1)
	assert.Equal(t, ids[0], paid.Orders[0].ID)

	_, err = f.svc.ListForCustomer(ctx, domain.ListOrdersRequest{CustomerID: customerID.String(), Status: "Perdido"})
	assert.True(t, errors.Is(err, domain.ErrInvalidStatus))
	_, err = f.svc.ListForCustomer(ctx, domain.ListOrdersRequest{CustomerID: customerID.String(), PageToken: "%%%"})
	assert.True(t, errors.Is(err, domain.ErrInvalidPageToken))
}
