package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/storefront-ledger/internal/audit/domain"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	customerdomain "github.com/smallbiznis/storefront-ledger/internal/customer/domain"
	"github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/observability/metrics"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reconcileBatchSize = 500

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Customers customerdomain.Repository

	Cache    cache.BalanceCache  `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	customers customerdomain.Repository
	cache     cache.BalanceCache
	metrics   *metrics.Metrics
	auditSvc  auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ledger.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		customers: p.Customers,
		cache:     p.Cache,
		metrics:   p.Metrics,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Post(ctx context.Context, tx *gorm.DB, req domain.PostRequest) (domain.PostResult, error) {
	if req.CustomerID == 0 {
		return domain.PostResult{}, domain.ErrInvalidCustomer
	}
	if len(req.Postings) == 0 {
		return domain.PostResult{}, domain.ErrEmptyPosting
	}
	keys := make([]string, 0, len(req.Postings))
	for _, posting := range req.Postings {
		if !posting.Operation.Valid() {
			return domain.PostResult{}, domain.ErrInvalidOperation.WithMessage("%q", posting.Operation)
		}
		if posting.Delta == 0 {
			return domain.PostResult{}, domain.ErrInvalidDelta
		}
		if strings.TrimSpace(posting.Reason) == "" {
			return domain.PostResult{}, domain.ErrInvalidReason
		}
		if key := strings.TrimSpace(posting.BonusKey); key != "" {
			keys = append(keys, key)
		}
	}

	customer, err := s.customers.FindByIDForUpdate(ctx, tx, req.CustomerID)
	if err != nil {
		return domain.PostResult{}, err
	}
	if customer == nil {
		return domain.PostResult{}, domain.ErrCustomerNotFound
	}

	existing, err := s.repo.ExistingBonusKeys(ctx, tx, req.CustomerID, keys)
	if err != nil {
		return domain.PostResult{}, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, key := range existing {
		seen[key] = struct{}{}
	}

	result := domain.PostResult{PreviousBalance: customer.Points}
	now := s.clock.Now().UTC()
	entries := make([]domain.Entry, 0, len(req.Postings))
	var net int64
	for _, posting := range req.Postings {
		key := strings.TrimSpace(posting.BonusKey)
		if key != "" {
			if _, dup := seen[key]; dup {
				result.SkippedKeys = append(result.SkippedKeys, key)
				continue
			}
			seen[key] = struct{}{}
		}

		entry := domain.Entry{
			ID:         s.genID.Generate(),
			CustomerID: req.CustomerID,
			Delta:      posting.Delta,
			Operation:  posting.Operation,
			Reason:     strings.TrimSpace(posting.Reason),
			OrderID:    posting.OrderID,
			CreatedAt:  now,
		}
		if key != "" {
			entry.BonusKey = &key
		}
		if len(posting.Metadata) > 0 {
			entry.Metadata = datatypes.JSONMap(posting.Metadata)
		}
		entries = append(entries, entry)
		net += posting.Delta
	}

	next := customer.Points + net
	if net < 0 && next < 0 && !req.AllowNegative {
		return domain.PostResult{}, domain.ErrInsufficientPoints.WithMessage(
			"balance %d cannot cover %d", customer.Points, -net)
	}

	for i := range entries {
		if err := s.repo.Insert(ctx, tx, &entries[i]); err != nil {
			return domain.PostResult{}, err
		}
	}

	if len(entries) > 0 {
		swapped, err := s.customers.SwapPoints(ctx, tx, req.CustomerID, customer.Points, next, now)
		if err != nil {
			return domain.PostResult{}, err
		}
		if !swapped {
			s.metrics.RecordConsistencyError(ctx, "ledger_post")
			s.log.Error("ledger_consistency_violation",
				zap.String("customer_id", req.CustomerID.String()),
				zap.String("source", "ledger_post"),
				zap.Int64("expected_points", customer.Points),
			)
			return domain.PostResult{}, domain.ErrBalanceRace.WithMessage("customer %s", req.CustomerID)
		}
	}

	for _, entry := range entries {
		s.metrics.RecordLedgerEntry(ctx, string(entry.Operation), entry.Delta)
	}

	result.Entries = entries
	result.Balance = next
	return result, nil
}

func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.PostResult, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.PostResult{}, domain.ErrInvalidCustomer
	}
	if req.Delta == 0 {
		return domain.PostResult{}, domain.ErrInvalidDelta
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.PostResult{}, domain.ErrInvalidReason
	}

	var result domain.PostResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.Post(ctx, tx, domain.PostRequest{
			CustomerID: customerID,
			Postings: []domain.Posting{{
				Delta:     req.Delta,
				Operation: domain.OperationManualAdjustment,
				Reason:    reason,
				Metadata:  map[string]any{"actor_id": strings.TrimSpace(req.ActorID)},
			}},
		})
		if err != nil {
			return err
		}
		if s.auditSvc != nil {
			return s.auditSvc.Record(ctx, tx, auditdomain.Event{
				ActorID:    req.ActorID,
				Action:     "ledger.adjust",
				TargetType: "customer",
				TargetID:   customerID.String(),
				Metadata: map[string]any{
					"delta":   req.Delta,
					"reason":  reason,
					"balance": result.Balance,
				},
			})
		}
		return nil
	})
	if err != nil {
		return domain.PostResult{}, err
	}

	s.Invalidate(ctx, customerID)
	s.log.Info("points adjusted",
		zap.String("customer_id", customerID.String()),
		zap.Int64("delta", req.Delta),
		zap.Int64("balance", result.Balance),
	)
	return result, nil
}

// Balance serves from the cache when present. A miss refills the cache from
// a committed profile read, tagged with the generation seen before the read
// so a concurrent invalidation wins.
func (s *Service) Balance(ctx context.Context, customerID snowflake.ID) (int64, error) {
	var (
		generation int64
		fill       = s.cache != nil
	)
	if s.cache != nil {
		lookup, err := s.cache.Get(ctx, customerID)
		switch {
		case err != nil:
			s.log.Warn("balance cache read failed", zap.Error(err))
			fill = false
		case lookup.Hit:
			return lookup.Balance, nil
		default:
			generation = lookup.Generation
		}
	}

	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		return 0, err
	}
	if customer == nil {
		return 0, domain.ErrCustomerNotFound
	}

	if fill {
		stored, err := s.cache.Set(ctx, customerID, customer.Points, generation)
		if err != nil {
			s.log.Warn("balance cache write failed", zap.Error(err))
		} else if !stored {
			s.log.Debug("balance cache fill skipped after invalidation",
				zap.String("customer_id", customerID.String()))
		}
	}
	return customer.Points, nil
}

func (s *Service) History(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return domain.ListEntriesResponse{}, domain.ErrInvalidCustomer
	}

	op := domain.Operation(strings.TrimSpace(req.Operation))
	if op != "" && !op.Valid() {
		return domain.ListEntriesResponse{}, domain.ErrInvalidOperation
	}

	var cursor *domain.EntryCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := parseID(decoded.ID)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.EntryCursor{ID: id, CreatedAt: createdAt}
	}

	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}
	if customer == nil {
		return domain.ListEntriesResponse{}, domain.ErrCustomerNotFound
	}

	pageSize := pagination.ClampPageSize(req.PageSize)
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		CustomerID: customerID,
		Operation:  op,
		Cursor:     cursor,
		Limit:      int(pageSize) + 1,
	})
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	resp := domain.ListEntriesResponse{Entries: make([]domain.Entry, 0, len(items))}
	for _, item := range items {
		resp.Entries = append(resp.Entries, *item)
	}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) EntriesForOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, op domain.Operation) ([]domain.Entry, error) {
	if db == nil {
		db = s.db
	}
	return s.repo.ListByOrder(ctx, db, orderID, op)
}

func (s *Service) Reconcile(ctx context.Context, customerID string) (domain.Reconciliation, error) {
	id, err := parseID(customerID)
	if err != nil {
		return domain.Reconciliation{}, domain.ErrInvalidCustomer
	}
	rows, err := s.repo.Compare(ctx, s.db, []snowflake.ID{id})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	if len(rows) == 0 {
		return domain.Reconciliation{}, domain.ErrCustomerNotFound
	}
	row := rows[0]
	if !row.Consistent() {
		s.reportMismatch(ctx, row)
		return row, domain.ErrBalanceMismatch.WithMessage(
			"customer %s cached %d ledger %d", row.CustomerID, row.Cached, row.LedgerSum)
	}
	return row, nil
}

// ReconcileAll walks every customer in id order. Mismatches are reported, not
// repaired.
func (s *Service) ReconcileAll(ctx context.Context) (domain.ReconcileSummary, error) {
	summary := domain.ReconcileSummary{Mismatches: []domain.Reconciliation{}}
	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		ids, err := s.customers.ListIDs(ctx, s.db, after, reconcileBatchSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}
		rows, err := s.repo.Compare(ctx, s.db, ids)
		if err != nil {
			return summary, err
		}
		for _, row := range rows {
			summary.Checked++
			if !row.Consistent() {
				s.reportMismatch(ctx, row)
				summary.Mismatches = append(summary.Mismatches, row)
			}
		}
		after = ids[len(ids)-1]
		if len(ids) < reconcileBatchSize {
			break
		}
	}

	s.log.Info("ledger reconciled",
		zap.Int("checked", summary.Checked),
		zap.Int("mismatches", len(summary.Mismatches)),
	)
	return summary, nil
}

// Invalidate drops cached balances. Failures are logged; entries expire on
// their own TTL.
func (s *Service) Invalidate(ctx context.Context, customerIDs ...snowflake.ID) {
	if s.cache == nil || len(customerIDs) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, customerIDs...); err != nil {
		s.log.Warn("balance cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) reportMismatch(ctx context.Context, row domain.Reconciliation) {
	s.metrics.RecordConsistencyError(ctx, "reconcile")
	s.log.Error("ledger_consistency_violation",
		zap.String("customer_id", row.CustomerID.String()),
		zap.String("source", "reconcile"),
		zap.Int64("cached", row.Cached),
		zap.Int64("ledger_sum", row.LedgerSum),
	)
}

func parseID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, strconv.ErrSyntax
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
