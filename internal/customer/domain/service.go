package domain

import (
	"context"
	"time"

	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"github.com/smallbiznis/storefront-ledger/pkg/fault"
)

type CreateCustomerRequest struct {
	Name         string
	Email        string
	ReferralCode string
}

type RegisterBirthdayRequest struct {
	CustomerID string
	Birthday   time.Time
}

type RegisterBirthdayResponse struct {
	Customer     Customer `json:"customer"`
	BonusGranted int64    `json:"bonus_granted"`
	Balance      int64    `json:"balance"`
}

// Standing is the read model behind the customer's points page.
type Standing struct {
	CustomerID    string               `json:"customer_id"`
	Balance       int64                `json:"balance"`
	TrailingSpend int64                `json:"trailing_spend"`
	Tier          *tierdomain.Progress `json:"tier,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, id string) (Customer, error)
	RegisterBirthday(ctx context.Context, req RegisterBirthdayRequest) (RegisterBirthdayResponse, error)
	Standing(ctx context.Context, id string) (Standing, error)
}

var (
	ErrInvalidName         = fault.New(fault.KindValidation, "invalid_name")
	ErrInvalidEmail        = fault.New(fault.KindValidation, "invalid_email")
	ErrInvalidID           = fault.New(fault.KindValidation, "invalid_customer_id")
	ErrInvalidReferralCode = fault.New(fault.KindValidation, "invalid_referral_code")
	ErrInvalidBirthday     = fault.New(fault.KindValidation, "invalid_birthday")
	ErrEmailTaken          = fault.New(fault.KindValidation, "email_already_registered")
	ErrBirthdayRegistered  = fault.New(fault.KindInvalidTransition, "birthday_already_registered")
	ErrNotFound            = fault.New(fault.KindNotFound, "customer_not_found")
)
