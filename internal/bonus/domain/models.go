package domain

import "time"

const (
	KeyBirthdayBonus        = "birthday_bonus"
	KeyReferralBonus        = "referral_bonus"
	KeyTicketThreshold      = "ticket_threshold"
	KeyTicketBonus          = "ticket_bonus"
	KeyRecurrenceBonus2     = "recurrence_bonus_2"
	KeyRecurrenceBonus3     = "recurrence_bonus_3"
	KeyRecurrenceBonus4Plus = "recurrence_bonus_4_plus"
)

// Keys lists every recognised setting.
var Keys = []string{
	KeyBirthdayBonus,
	KeyReferralBonus,
	KeyTicketThreshold,
	KeyTicketBonus,
	KeyRecurrenceBonus2,
	KeyRecurrenceBonus3,
	KeyRecurrenceBonus4Plus,
}

type Setting struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)" json:"name"`
	Value     int64     `gorm:"not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Setting) TableName() string { return "bonus_settings" }

// Config is an immutable snapshot of bonus settings. Point amounts are whole
// points; TicketThreshold is in minor currency units.
type Config struct {
	BirthdayBonus        int64 `json:"birthday_bonus"`
	ReferralBonus        int64 `json:"referral_bonus"`
	TicketThreshold      int64 `json:"ticket_threshold"`
	TicketBonus          int64 `json:"ticket_bonus"`
	RecurrenceBonus2     int64 `json:"recurrence_bonus_2"`
	RecurrenceBonus3     int64 `json:"recurrence_bonus_3"`
	RecurrenceBonus4Plus int64 `json:"recurrence_bonus_4_plus"`
}

// ConfigFromSettings folds rows into a Config. Unknown names are ignored and
// missing ones stay zero.
func ConfigFromSettings(rows []Setting) Config {
	var cfg Config
	for _, row := range rows {
		switch row.Name {
		case KeyBirthdayBonus:
			cfg.BirthdayBonus = row.Value
		case KeyReferralBonus:
			cfg.ReferralBonus = row.Value
		case KeyTicketThreshold:
			cfg.TicketThreshold = row.Value
		case KeyTicketBonus:
			cfg.TicketBonus = row.Value
		case KeyRecurrenceBonus2:
			cfg.RecurrenceBonus2 = row.Value
		case KeyRecurrenceBonus3:
			cfg.RecurrenceBonus3 = row.Value
		case KeyRecurrenceBonus4Plus:
			cfg.RecurrenceBonus4Plus = row.Value
		}
	}
	return cfg
}

// RecurrenceBonus returns the bonus for the n-th paid order of a month.
func (c Config) RecurrenceBonus(ordinal int) int64 {
	switch {
	case ordinal <= 1:
		return 0
	case ordinal == 2:
		return c.RecurrenceBonus2
	case ordinal == 3:
		return c.RecurrenceBonus3
	default:
		return c.RecurrenceBonus4Plus
	}
}
