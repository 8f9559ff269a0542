package domain

import (
	"math"
	"math/bits"

	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
)

type ComponentKind string

const (
	ComponentBase       ComponentKind = "base"
	ComponentTicket     ComponentKind = "ticket"
	ComponentRecurrence ComponentKind = "recurrence"
)

// minorPerPoint is how many minor currency units earn one point at a 1.0
// multiplier, in thousandths.
const minorPerPoint = 100 * 1000

// Input is everything Compute needs. It carries no ids so the calculation
// stays a pure function of its arguments.
type Input struct {
	// NetValue is the accrual base in minor units.
	NetValue   int64
	Multiplier float64
	// Ordinal is this order's position among the customer's paid orders in
	// the order's calendar month, starting at 1.
	Ordinal int
	Bonus   bonusdomain.Config
}

type Component struct {
	Kind   ComponentKind `json:"kind"`
	Points int64         `json:"points"`
	Reason string        `json:"reason"`
}

// Compute returns one component per non-zero earning rule, in a fixed order.
func Compute(in Input) []Component {
	var out []Component
	if base := BasePoints(in.NetValue, in.Multiplier); base > 0 {
		out = append(out, Component{Kind: ComponentBase, Points: base, Reason: "purchase points"})
	}
	if in.Bonus.TicketBonus > 0 && in.Bonus.TicketThreshold > 0 && in.NetValue >= in.Bonus.TicketThreshold {
		out = append(out, Component{Kind: ComponentTicket, Points: in.Bonus.TicketBonus, Reason: "high ticket bonus"})
	}
	if bonus := in.Bonus.RecurrenceBonus(in.Ordinal); bonus > 0 {
		out = append(out, Component{Kind: ComponentRecurrence, Points: bonus, Reason: recurrenceReason(in.Ordinal)})
	}
	return out
}

// BasePoints converts the multiplier to thousandths so the truncation is
// exact integer arithmetic. The product is taken at 128 bits; a result
// beyond int64 saturates.
func BasePoints(netValue int64, multiplier float64) int64 {
	if netValue <= 0 || multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return 0
	}
	scaled := math.Round(multiplier * 1000)
	if scaled >= math.MaxInt64 {
		return math.MaxInt64
	}
	hi, lo := bits.Mul64(uint64(netValue), uint64(scaled))
	if hi >= minorPerPoint {
		return math.MaxInt64
	}
	points, _ := bits.Div64(hi, lo, minorPerPoint)
	if points > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(points)
}

func Total(components []Component) int64 {
	var sum int64
	for _, c := range components {
		sum += c.Points
	}
	return sum
}

func recurrenceReason(ordinal int) string {
	switch ordinal {
	case 2:
		return "second purchase this month"
	case 3:
		return "third purchase this month"
	default:
		return "recurring purchase this month"
	}
}
