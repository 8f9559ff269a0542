package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/coupon/domain"
	"github.com/smallbiznis/storefront-ledger/internal/coupon/repository"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	orderdomain "github.com/smallbiznis/storefront-ledger/internal/order/domain"
	"github.com/smallbiznis/storefront-ledger/internal/testkit"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testkit.OpenDB(t)
	node := testkit.Node(t)
	clk := testkit.Clock()
	svc := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Loyalty: testkit.Loyalty(),
		Repo:    repository.Provide(),
	})
	return fixture{db: db, node: node, clock: clk, svc: svc}
}

func (f fixture) customer(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:           id,
		Name:         "Lia",
		Email:        fmt.Sprintf("lia+%s@example.com", id),
		ReferralCode: "LIA-" + id.Base36(),
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}).Error)
	return id
}

func (f fixture) issue(t *testing.T, customerID snowflake.ID, minOrder int64) domain.Instance {
	t.Helper()
	var inst domain.Instance
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		def, err := f.svc.EnsureDefinition(context.Background(), tx, domain.DefinitionSpec{
			RedemptionRuleID: 777,
			Name:             "Desconto R$10",
			DiscountValue:    1000,
			MinOrderValue:    minOrder,
			PointsCost:       500,
		})
		if err != nil {
			return err
		}
		inst, err = f.svc.Issue(context.Background(), tx, def, customerID)
		return err
	}))
	return inst
}

func (f fixture) validate(t *testing.T, req domain.CheckoutCoupon) (domain.Instance, error) {
	t.Helper()
	var inst domain.Instance
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		inst, err = f.svc.ValidateForCheckout(context.Background(), tx, req)
		return err
	})
	return inst, err
}

func (f fixture) markUsed(t *testing.T, instanceID, orderID snowflake.ID) (domain.Instance, error) {
	t.Helper()
	var inst domain.Instance
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		inst, err = f.svc.MarkUsed(context.Background(), tx, instanceID, orderID)
		return err
	})
	return inst, err
}

func (f fixture) order(t *testing.T, customerID, couponID snowflake.ID, status orderdomain.PaymentStatus) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	require.NoError(t, f.db.Create(&orderdomain.Order{
		ID:               id,
		CustomerID:       customerID,
		Status:           status,
		DeliveryStatus:   orderdomain.DeliveryPending,
		Subtotal:         10000,
		CouponInstanceID: &couponID,
		NetValue:         9000,
		Total:            9000,
		CreatedAt:        f.clock.Now(),
		UpdatedAt:        f.clock.Now(),
	}).Error)
	return id
}

func TestCodes(t *testing.T) {
	code := DefinitionCode("Desconto Dez", snowflake.ID(42))
	assert.Equal(t, "DESCONTO-DEZ-"+strings.ToUpper(snowflake.ID(42).Base36()), code)
	assert.True(t, strings.HasPrefix(InstanceCode(code, 99), code+"-"))
	assert.True(t, strings.HasPrefix(DefinitionCode("", 42), "CUPOM-"))
}

func TestIssueCopiesTermsAndSetsExpiry(t *testing.T) {
	f := newFixture(t)
	customerID := f.customer(t)

	inst := f.issue(t, customerID, 5000)
	assert.EqualValues(t, 1000, inst.DiscountValue)
	assert.EqualValues(t, 5000, inst.MinOrderValue)
	assert.False(t, inst.IsUsed)
	assert.True(t, f.clock.Now().Add(90*24*time.Hour).Equal(inst.ExpiresAt))

	second := f.issue(t, customerID, 5000)
	assert.Equal(t, inst.DefinitionID, second.DefinitionID)
	assert.NotEqual(t, inst.Code, second.Code)

	defs, err := f.svc.ListDefinitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestIssueHonoursStockAndActive(t *testing.T) {
	f := newFixture(t)
	customerID := f.customer(t)
	ctx := context.Background()
	inst := f.issue(t, customerID, 0)

	one := 1
	_, err := f.svc.UpdateDefinition(ctx, inst.DefinitionID.String(), domain.UpdateDefinitionRequest{Stock: &one})
	require.NoError(t, err)
	f.issue(t, customerID, 0)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		def, err := f.svc.EnsureDefinition(ctx, tx, domain.DefinitionSpec{
			RedemptionRuleID: 777, Name: "Desconto R$10", DiscountValue: 1000, PointsCost: 500,
		})
		if err != nil {
			return err
		}
		_, err = f.svc.Issue(ctx, tx, def, customerID)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrOutOfStock))

	inactive := false
	unlimited := -1
	def, err := f.svc.UpdateDefinition(ctx, inst.DefinitionID.String(), domain.UpdateDefinitionRequest{Active: &inactive, Stock: &unlimited})
	require.NoError(t, err)
	assert.Nil(t, def.Stock)
	assert.False(t, def.Active)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Issue(ctx, tx, def, customerID)
		return err
	})
	assert.True(t, errors.Is(err, domain.ErrDefinitionInactive))
}

func TestValidateForCheckout(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t)
	other := f.customer(t)
	inst := f.issue(t, owner, 5000)

	got, err := f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: owner, Subtotal: 6000})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)

	_, err = f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: other, Subtotal: 6000})
	assert.True(t, errors.Is(err, domain.ErrNotOwned))

	got, err = f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: owner, Subtotal: 4999})
	assert.True(t, errors.Is(err, domain.ErrBelowMinimum))
	assert.Equal(t, inst.ID, got.ID)

	_, err = f.validate(t, domain.CheckoutCoupon{InstanceID: f.node.Generate(), CustomerID: owner, Subtotal: 6000})
	assert.True(t, errors.Is(err, fault.ErrNotFound))

	pending := f.order(t, owner, inst.ID, orderdomain.PaymentPending)
	_, err = f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: owner, Subtotal: 6000})
	assert.True(t, errors.Is(err, domain.ErrReserved))

	_, err = f.markUsed(t, inst.ID, pending)
	require.NoError(t, err)
	_, err = f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: owner, Subtotal: 6000})
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
}

func TestValidateRejectsExpired(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t)
	inst := f.issue(t, owner, 0)

	f.clock.Set(inst.ExpiresAt)
	_, err := f.validate(t, domain.CheckoutCoupon{InstanceID: inst.ID, CustomerID: owner, Subtotal: 6000})
	assert.True(t, errors.Is(err, domain.ErrExpired))
}

func TestMarkUsedIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t)
	inst := f.issue(t, owner, 0)
	orderID := f.order(t, owner, inst.ID, orderdomain.PaymentPending)

	used, err := f.markUsed(t, inst.ID, orderID)
	require.NoError(t, err)
	assert.True(t, used.IsUsed)
	require.NotNil(t, used.OrderID)
	assert.Equal(t, orderID, *used.OrderID)

	again, err := f.markUsed(t, inst.ID, orderID)
	require.NoError(t, err)
	require.NotNil(t, again.UsedAt)
	assert.Equal(t, used.UsedAt.Unix(), again.UsedAt.Unix())

	_, err = f.markUsed(t, inst.ID, f.node.Generate())
	assert.True(t, errors.Is(err, domain.ErrOwnedByOtherOrder))
	assert.True(t, errors.Is(err, fault.ErrConsistency))
}

func TestDeleteRemovesUnusedAndArchivesUsed(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t)
	ctx := context.Background()

	unused := f.issue(t, owner, 0)
	res, err := f.svc.Delete(ctx, unused.ID.String())
	require.NoError(t, err)
	assert.False(t, res.Archived)
	var count int64
	require.NoError(t, f.db.Model(&domain.Instance{}).Where("id = ?", unused.ID).Count(&count).Error)
	assert.Zero(t, count)

	used := f.issue(t, owner, 0)
	orderID := f.order(t, owner, used.ID, orderdomain.PaymentPending)
	_, err = f.svc.Delete(ctx, used.ID.String())
	assert.True(t, errors.Is(err, domain.ErrAttachedToPending))

	_, err = f.markUsed(t, used.ID, orderID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&orderdomain.Order{}).Where("id = ?", orderID).Update("status", orderdomain.PaymentPaid).Error)

	res, err = f.svc.Delete(ctx, used.ID.String())
	require.NoError(t, err)
	assert.True(t, res.Archived)

	var archived domain.Instance
	require.NoError(t, f.db.First(&archived, "id = ?", used.ID).Error)
	assert.NotNil(t, archived.ArchivedAt)
	assert.True(t, archived.IsUsed)
	require.NotNil(t, archived.OrderID)

	_, err = f.svc.Delete(ctx, unused.ID.String())
	assert.True(t, errors.Is(err, domain.ErrInstanceNotFound))
}

func TestListForCustomerHidesArchived(t *testing.T) {
	f := newFixture(t)
	owner := f.customer(t)
	ctx := context.Background()

	first := f.issue(t, owner, 0)
	f.issue(t, owner, 0)
	third := f.issue(t, owner, 0)
	orderID := f.order(t, owner, first.ID, orderdomain.PaymentPaid)
	_, err := f.markUsed(t, first.ID, orderID)
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, first.ID.String())
	require.NoError(t, err)

	page, err := f.svc.ListForCustomer(ctx, domain.ListRequest{CustomerID: owner.String(), PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Coupons, 1)
	assert.Equal(t, third.ID, page.Coupons[0].ID)
	assert.Equal(t, "Desconto R$10", page.Coupons[0].DefinitionName)
	assert.True(t, page.HasMore)

	rest, err := f.svc.ListForCustomer(ctx, domain.ListRequest{CustomerID: owner.String(), PageToken: page.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, rest.Coupons, 1)

	all, err := f.svc.ListAll(ctx, domain.ListRequest{IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, all.Coupons, 3)
	archived := all.Coupons[2]
	require.NotNil(t, archived.OrderStatus)
	assert.Equal(t, string(orderdomain.PaymentPaid), *archived.OrderStatus)
}
