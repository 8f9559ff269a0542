package service

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/audit/repository"
	obscontext "github.com/smallbiznis/storefront-ledger/internal/observability/context"
	"github.com/smallbiznis/storefront-ledger/internal/testkit"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, func(time.Duration)) {
	t.Helper()
	clk := testkit.Clock()
	svc := NewService(Params{
		DB:    testkit.OpenDB(t),
		Log:   zap.NewNop(),
		GenID: testkit.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk.Advance
}

func TestRecordTakesActorFromContextAndMasksCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "ops-7")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "curl/8")

	require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{
		Action:     "coupon.delete",
		TargetType: "coupon",
		TargetID:   "99",
		Metadata:   map[string]any{"coupon_code": "LOYAL10-ABCDEF", "reason": "typo"},
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Action: "coupon.delete"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "ops-7", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "typo", entry.Metadata["reason"])
	assert.NotEqual(t, "LOYAL10-ABCDEF", entry.Metadata["coupon_code"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Event{Action: "order.bulk_cancel"}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)

	err = svc.Record(context.Background(), nil, auditdomain.Event{Action: " "})
	assert.True(t, errors.Is(err, auditdomain.ErrInvalidAction))
}

func TestListPaginates(t *testing.T) {
	svc, advance := newTestService(t)
	ctx := context.Background()
	for _, action := range []string{"tier.replace", "bonus.update", "ledger.adjust"} {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{Action: action, TargetType: "x"}))
		advance(time.Second)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "ledger.adjust", first.AuditLogs[0].Action)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, "tier.replace", second.AuditLogs[0].Action)

	start := testkit.Epoch.Add(time.Hour)
	end := testkit.Epoch
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.True(t, errors.Is(err, auditdomain.ErrInvalidTimeRange))
}
