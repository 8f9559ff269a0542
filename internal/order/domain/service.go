package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/pkg/db/pagination"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
	"gorm.io/gorm"
)

type ItemInput struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int32  `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerID       string      `json:"customer_id"`
	Items            []ItemInput `json:"items"`
	ShippingCost     int64       `json:"shipping_cost"`
	CouponInstanceID string      `json:"coupon_instance_id,omitempty"`
	Donation         int64       `json:"donation"`
	PaymentMethod    string      `json:"payment_method,omitempty"`
}

type CreateOrderResponse struct {
	Order Order `json:"order"`
	// CouponDropped is set when the coupon missed its minimum and policy
	// dropped it instead of rejecting the order.
	CouponDropped bool `json:"coupon_dropped,omitempty"`
}

type ConfirmPaymentResponse struct {
	Order Order `json:"order"`
	// AlreadyPaid marks a duplicate confirmation that changed nothing.
	AlreadyPaid bool  `json:"already_paid"`
	Points      int64 `json:"points"`
}

type ReverseResponse struct {
	Order    Order `json:"order"`
	Reversed int64 `json:"reversed"`
	Balance  int64 `json:"balance"`
}

type ListOrdersRequest struct {
	CustomerID string
	Status     string
	PageToken  string
	PageSize   int32
}

type ListOrdersResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type OrderCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CustomerID snowflake.ID
	Status     PaymentStatus
	Cursor     *OrderCursor
	Limit      int
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
)

type BulkOutcome struct {
	OrderID string `json:"order_id"`
	Result  string `json:"result"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type BulkResult struct {
	Outcomes  []BulkOutcome `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	Items(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Item, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Order, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, at time.Time) error
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, at time.Time) error
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
	SetDeliveryStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status DeliveryStatus, at time.Time) error
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	Get(ctx context.Context, id string) (Order, error)
	ListForCustomer(ctx context.Context, req ListOrdersRequest) (ListOrdersResponse, error)
	ConfirmPayment(ctx context.Context, id string) (ConfirmPaymentResponse, error)
	Finalize(ctx context.Context, id string) (Order, error)
	Cancel(ctx context.Context, id string, reason string) (Order, error)
	Reverse(ctx context.Context, id string, reason string) (ReverseResponse, error)
	AdvanceDelivery(ctx context.Context, id string, next DeliveryStatus) (Order, error)

	BulkConfirmPayment(ctx context.Context, ids []string) (BulkResult, error)
	BulkAdvanceDelivery(ctx context.Context, ids []string, next DeliveryStatus) (BulkResult, error)
	BulkCancel(ctx context.Context, ids []string, reason string) (BulkResult, error)
}

var (
	ErrInvalidID             = fault.New(fault.KindValidation, "invalid_order_id")
	ErrInvalidCustomer       = fault.New(fault.KindValidation, "invalid_customer_id")
	ErrEmptyItems            = fault.New(fault.KindValidation, "empty_items")
	ErrInvalidItem           = fault.New(fault.KindValidation, "invalid_item")
	ErrInvalidAmount         = fault.New(fault.KindValidation, "invalid_amount")
	ErrInvalidDeliveryStatus = fault.New(fault.KindValidation, "invalid_delivery_status")
	ErrInvalidStatus         = fault.New(fault.KindValidation, "invalid_payment_status")
	ErrInvalidPageToken      = fault.New(fault.KindValidation, "invalid_page_token")
	ErrEmptyBatch            = fault.New(fault.KindValidation, "empty_batch")
	ErrBatchTooLarge         = fault.New(fault.KindValidation, "batch_too_large")
	ErrNotFound              = fault.New(fault.KindNotFound, "order_not_found")
	ErrInvalidTransition     = fault.New(fault.KindInvalidTransition, "invalid_status_transition")
	ErrPaidOrderCancel       = fault.New(fault.KindInvalidTransition, "paid_order_requires_reversal")
	ErrDispatchUnpaid        = fault.New(fault.KindInvalidTransition, "dispatch_requires_payment")
)
