package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

// Event is what callers hand to Record. Empty actor fields are filled from the
// request context.
type Event struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	// Record writes through db so callers can keep the row in their own
	// transaction. A nil db uses the service connection.
	Record(ctx context.Context, db *gorm.DB, event Event) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = fault.New(fault.KindValidation, "invalid_page_token")
	ErrInvalidTimeRange = fault.New(fault.KindValidation, "invalid_time_range")
	ErrInvalidAction    = fault.New(fault.KindValidation, "invalid_action")
)
