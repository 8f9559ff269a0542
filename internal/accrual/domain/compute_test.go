package domain

import (
	"math"
	"testing"

	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	"github.com/stretchr/testify/assert"
)

func TestComputeFirstPurchaseBelowThreshold(t *testing.T) {
	got := Compute(Input{
		NetValue:   10000,
		Multiplier: 1.0,
		Ordinal:    1,
		Bonus:      bonusdomain.Config{TicketThreshold: 50000, TicketBonus: 50, RecurrenceBonus2: 10},
	})

	assert.Equal(t, []Component{{Kind: ComponentBase, Points: 100, Reason: "purchase points"}}, got)
}

func TestComputeAllComponents(t *testing.T) {
	bonus := bonusdomain.Config{
		TicketThreshold:      50000,
		TicketBonus:          50,
		RecurrenceBonus2:     10,
		RecurrenceBonus3:     20,
		RecurrenceBonus4Plus: 30,
	}
	got := Compute(Input{NetValue: 60000, Multiplier: 1.5, Ordinal: 5, Bonus: bonus})

	assert.Len(t, got, 3)
	assert.Equal(t, int64(900), got[0].Points)
	assert.Equal(t, ComponentTicket, got[1].Kind)
	assert.Equal(t, int64(30), got[2].Points)
	assert.Equal(t, int64(980), Total(got))
}

func TestBasePointsTruncates(t *testing.T) {
	assert.Equal(t, int64(1), BasePoints(199, 1.0))
	assert.Equal(t, int64(0), BasePoints(99, 1.0))
	assert.Equal(t, int64(123), BasePoints(10000, 1.234))
	assert.Equal(t, int64(0), BasePoints(10000, 0))
	assert.Equal(t, int64(0), BasePoints(-500, 2))
}

func TestBasePointsLargeValues(t *testing.T) {
	// netValue*milli exceeds int64 here but the quotient does not.
	assert.Equal(t, int64(math.MaxInt64/100000*2000), BasePoints(math.MaxInt64/100000*100000, 2.0))
	assert.Equal(t, int64(math.MaxInt64/100), BasePoints(math.MaxInt64, 1.0))
	assert.Equal(t, int64(math.MaxInt64), BasePoints(math.MaxInt64, 1e12))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "accrual:12:base", AccrualKey(12, ComponentBase))
	assert.Equal(t, "referral:7", ReferralKey(7))
}
