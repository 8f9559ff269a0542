package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	customerrepo "github.com/smallbiznis/storefront-ledger/internal/customer/repository"
	"github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/ledger/repository"
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
	return newCachedFixture(t, nil)
}

func newCachedFixture(t *testing.T, balances cache.BalanceCache) fixture {
	t.Helper()
	db := testkit.OpenDB(t)
	node := testkit.Node(t)
	clk := testkit.Clock()
	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		Customers: customerrepo.Provide(),
		Cache:     balances,
	})
	return fixture{db: db, node: node, clock: clk, svc: svc}
}

// memoryBalances mirrors the redis generation semantics in memory.
type memoryBalances struct {
	values    map[snowflake.ID]int64
	gens      map[snowflake.ID]int64
	beforeSet func()
}

func newMemoryBalances() *memoryBalances {
	return &memoryBalances{values: map[snowflake.ID]int64{}, gens: map[snowflake.ID]int64{}}
}

func (m *memoryBalances) Get(_ context.Context, id snowflake.ID) (cache.Lookup, error) {
	v, ok := m.values[id]
	return cache.Lookup{Balance: v, Hit: ok, Generation: m.gens[id]}, nil
}

func (m *memoryBalances) Set(_ context.Context, id snowflake.ID, balance, generation int64) (bool, error) {
	if hook := m.beforeSet; hook != nil {
		m.beforeSet = nil
		hook()
	}
	if m.gens[id] != generation {
		return false, nil
	}
	m.values[id] = balance
	return true, nil
}

func (m *memoryBalances) Invalidate(_ context.Context, ids ...snowflake.ID) error {
	for _, id := range ids {
		delete(m.values, id)
		m.gens[id]++
	}
	return nil
}

func (f fixture) customer(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:           id,
		Name:         "Ana",
		Email:        fmt.Sprintf("ana+%s@example.com", id),
		ReferralCode: "ANA-" + id.Base36(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}).Error)
	return id
}

func (f fixture) post(t *testing.T, req domain.PostRequest) (domain.PostResult, error) {
	t.Helper()
	var result domain.PostResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.Post(context.Background(), tx, req)
		return err
	})
	return result, err
}

func (f fixture) points(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var c customerdomain.Customer
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return c.Points
}

func accrual(delta int64, key string) domain.Posting {
	return domain.Posting{Delta: delta, Operation: domain.OperationAccrual, Reason: "order", BonusKey: key}
}

func TestPostAppliesEntriesAndBalance(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t)
	orderID := f.node.Generate()

	res, err := f.post(t, domain.PostRequest{
		CustomerID: id,
		Postings: []domain.Posting{
			{Delta: 100, Operation: domain.OperationAccrual, Reason: "base", BonusKey: "accrual:1:base", OrderID: &orderID},
			{Delta: 20, Operation: domain.OperationAccrual, Reason: "ticket", BonusKey: "accrual:1:ticket", OrderID: &orderID,
				Metadata: map[string]any{"threshold": 30000}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
	assert.EqualValues(t, 0, res.PreviousBalance)
	assert.EqualValues(t, 120, res.Balance)
	assert.EqualValues(t, 120, f.points(t, id))

	entries, err := f.svc.EntriesForOrder(context.Background(), nil, orderID, domain.OperationAccrual)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 20, entries[1].Delta)

	rec, err := f.svc.Reconcile(context.Background(), id.String())
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.EqualValues(t, 120, rec.LedgerSum)
}

func TestPostSkipsGrantedBonusKeys(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t)

	first, err := f.post(t, domain.PostRequest{CustomerID: id, Postings: []domain.Posting{accrual(50, "birthday")}})
	require.NoError(t, err)
	assert.Len(t, first.Entries, 1)

	second, err := f.post(t, domain.PostRequest{CustomerID: id, Postings: []domain.Posting{
		accrual(50, "birthday"),
		accrual(10, "once"),
		accrual(10, "once"),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"birthday", "once"}, second.SkippedKeys)
	assert.Len(t, second.Entries, 1)
	assert.EqualValues(t, 60, second.Balance)
	assert.EqualValues(t, 60, f.points(t, id))
}

func TestPostRejectsOverdraftUnlessAllowed(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t)
	_, err := f.post(t, domain.PostRequest{CustomerID: id, Postings: []domain.Posting{accrual(100, "")}})
	require.NoError(t, err)

	_, err = f.post(t, domain.PostRequest{CustomerID: id, Postings: []domain.Posting{
		{Delta: -150, Operation: domain.OperationRedemption, Reason: "rule"},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientPoints))
	assert.True(t, errors.Is(err, fault.ErrInsufficientPoints))
	assert.EqualValues(t, 100, f.points(t, id))

	var count int64
	require.NoError(t, f.db.Model(&domain.Entry{}).Where("customer_id = ?", id).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	res, err := f.post(t, domain.PostRequest{CustomerID: id, AllowNegative: true, Postings: []domain.Posting{
		{Delta: -150, Operation: domain.OperationReversal, Reason: "reversal"},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, -50, res.Balance)
}

func TestPostValidation(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t)

	cases := []struct {
		name string
		req  domain.PostRequest
		want error
	}{
		{"no customer", domain.PostRequest{Postings: []domain.Posting{accrual(1, "")}}, domain.ErrInvalidCustomer},
		{"empty", domain.PostRequest{CustomerID: id}, domain.ErrEmptyPosting},
		{"zero delta", domain.PostRequest{CustomerID: id, Postings: []domain.Posting{accrual(0, "")}}, domain.ErrInvalidDelta},
		{"blank reason", domain.PostRequest{CustomerID: id, Postings: []domain.Posting{
			{Delta: 1, Operation: domain.OperationAccrual, Reason: "  "},
		}}, domain.ErrInvalidReason},
		{"unknown operation", domain.PostRequest{CustomerID: id, Postings: []domain.Posting{
			{Delta: 1, Operation: "gift", Reason: "x"},
		}}, domain.ErrInvalidOperation},
		{"missing customer", domain.PostRequest{CustomerID: f.node.Generate(), Postings: []domain.Posting{accrual(1, "")}}, domain.ErrCustomerNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.post(t, tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestAdjustAndHistoryPagination(t *testing.T) {
	f := newFixture(t)
	id := f.customer(t)
	ctx := context.Background()

	for _, delta := range []int64{30, -10, 5} {
		_, err := f.svc.Adjust(ctx, domain.AdjustRequest{CustomerID: id.String(), Delta: delta, Reason: "support", ActorID: "ops"})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	balance, err := f.svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 25, balance)

	page, err := f.svc.History(ctx, domain.ListEntriesRequest{CustomerID: id.String(), PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.EqualValues(t, 5, page.Entries[0].Delta)
	assert.Equal(t, domain.OperationManualAdjustment, page.Entries[0].Operation)
	assert.Equal(t, "ops", page.Entries[0].Metadata["actor_id"])

	rest, err := f.svc.History(ctx, domain.ListEntriesRequest{CustomerID: id.String(), PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Entries, 1)
	assert.EqualValues(t, 30, rest.Entries[0].Delta)
	assert.False(t, rest.HasMore)

	_, err = f.svc.History(ctx, domain.ListEntriesRequest{CustomerID: id.String(), PageToken: "%%%"})
	assert.True(t, errors.Is(err, domain.ErrInvalidPageToken))

	_, err = f.svc.Adjust(ctx, domain.AdjustRequest{CustomerID: id.String(), Delta: -100, Reason: "support"})
	assert.True(t, errors.Is(err, domain.ErrInsufficientPoints))
}

func TestBalanceCacheFillLosesToInvalidation(t *testing.T) {
	balances := newMemoryBalances()
	f := newCachedFixture(t, balances)
	id := f.customer(t)
	ctx := context.Background()

	_, err := f.svc.Adjust(ctx, domain.AdjustRequest{CustomerID: id.String(), Delta: 40, Reason: "welcome"})
	require.NoError(t, err)
	balance, err := f.svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 40, balance)
	assert.EqualValues(t, 40, balances.values[id])

	// A writer commits and invalidates between this reader's profile read
	// and its cache fill.
	f.svc.Invalidate(ctx, id)
	balances.beforeSet = func() {
		_, err := f.svc.Adjust(ctx, domain.AdjustRequest{CustomerID: id.String(), Delta: 10, Reason: "support"})
		require.NoError(t, err)
	}
	balance, err = f.svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 40, balance)
	assert.NotContains(t, balances.values, id)

	balance, err = f.svc.Balance(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 50, balance)
	assert.EqualValues(t, 50, balances.values[id])
}

func TestReconcileReportsMismatch(t *testing.T) {
	f := newFixture(t)
	good := f.customer(t)
	bad := f.customer(t)
	_, err := f.post(t, domain.PostRequest{CustomerID: good, Postings: []domain.Posting{accrual(10, "")}})
	require.NoError(t, err)
	_, err = f.post(t, domain.PostRequest{CustomerID: bad, Postings: []domain.Posting{accrual(10, "")}})
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`UPDATE customers SET points = 999 WHERE id = ?`, bad).Error)

	rec, err := f.svc.Reconcile(context.Background(), bad.String())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrConsistency))
	assert.EqualValues(t, 999, rec.Cached)
	assert.EqualValues(t, 10, rec.LedgerSum)

	summary, err := f.svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	require.Len(t, summary.Mismatches, 1)
	assert.Equal(t, bad, summary.Mismatches[0].CustomerID)
}
