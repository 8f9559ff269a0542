package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is the loyalty profile. Points is a cache of the ledger sum and is
// only written by the ledger under a row lock.
type Customer struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	Name          string        `gorm:"type:text;not null" json:"name"`
	Email         string        `gorm:"type:varchar(320);not null;uniqueIndex" json:"email"`
	ReferralCode  string        `gorm:"type:varchar(64);not null;uniqueIndex" json:"referral_code"`
	ReferredBy    *snowflake.ID `gorm:"index" json:"referred_by,omitempty"`
	Birthday      *time.Time    `json:"birthday,omitempty"`
	Points        int64         `gorm:"not null;default:0" json:"points"`
	TrailingSpend int64         `gorm:"not null;default:0" json:"trailing_spend"`
	TierID        *snowflake.ID `json:"tier_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
