package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pendente"
	PaymentPaid      PaymentStatus = "Pago"
	PaymentFinalized PaymentStatus = "Finalizada"
	PaymentCancelled PaymentStatus = "Cancelado"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "Pendente"
	DeliveryDispatched DeliveryStatus = "Despachado"
	DeliveryDelivered  DeliveryStatus = "Entregue"
)

// Order amounts are minor currency units.
type Order struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	CustomerID       snowflake.ID   `gorm:"not null;index:ix_orders_customer_created,priority:1" json:"customer_id"`
	Status           PaymentStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	DeliveryStatus   DeliveryStatus `gorm:"type:varchar(16);not null" json:"delivery_status"`
	PaymentMethod    string         `gorm:"type:varchar(32)" json:"payment_method,omitempty"`
	Subtotal         int64          `gorm:"not null" json:"subtotal"`
	ShippingCost     int64          `gorm:"not null;default:0" json:"shipping_cost"`
	CouponInstanceID *snowflake.ID  `gorm:"index" json:"coupon_instance_id,omitempty"`
	CouponDiscount   int64          `gorm:"not null;default:0" json:"coupon_discount"`
	Donation         int64          `gorm:"not null;default:0" json:"donation"`
	NetValue         int64          `gorm:"not null" json:"net_value"`
	Total            int64          `gorm:"not null" json:"total"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason     string         `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index:ix_orders_customer_created,priority:2" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`

	Items []Item `gorm:"-" json:"items"`
}

func (Order) TableName() string { return "orders" }

// Item freezes the catalog line at purchase time.
type Item struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID   snowflake.ID `gorm:"not null;index" json:"order_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	UnitPrice int64        `gorm:"not null" json:"unit_price"`
	Quantity  int32        `gorm:"not null" json:"quantity"`
}

func (Item) TableName() string { return "order_items" }

// Totals derives the order amounts. The discount never pushes merchandise
// below zero. Amounts that do not fit in int64 fail with ErrInvalidAmount.
func Totals(items []Item, discount, shipping, donation int64) (subtotal, net, total int64, err error) {
	for _, item := range items {
		if item.UnitPrice < 0 || item.Quantity < 0 {
			return 0, 0, 0, ErrInvalidAmount
		}
		if item.Quantity > 0 && item.UnitPrice > math.MaxInt64/int64(item.Quantity) {
			return 0, 0, 0, ErrInvalidAmount.WithMessage("line %q overflows", item.Name)
		}
		if subtotal, err = addAmount(subtotal, item.UnitPrice*int64(item.Quantity)); err != nil {
			return 0, 0, 0, err
		}
	}
	net = subtotal - discount
	if net < 0 {
		net = 0
	}
	if total, err = addAmount(net, shipping); err != nil {
		return 0, 0, 0, err
	}
	if total, err = addAmount(total, donation); err != nil {
		return 0, 0, 0, err
	}
	return subtotal, net, total, nil
}

// addAmount adds two non-negative amounts.
func addAmount(a, b int64) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, ErrInvalidAmount.WithMessage("order amount overflows")
	}
	return a + b, nil
}
