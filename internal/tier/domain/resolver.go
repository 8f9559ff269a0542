package domain

import (
	"sort"
	"strings"
)

// Sorted returns a copy ordered by MinSpend ascending.
func Sorted(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinSpend < out[j].MinSpend })
	return out
}

// Resolve picks the tier with the greatest MinSpend not above spend. A spend
// below every threshold maps to the lowest tier.
func Resolve(tiers []Tier, spend int64) (Tier, error) {
	if len(tiers) == 0 {
		return Tier{}, ErrNoTiers
	}
	sorted := Sorted(tiers)
	current := sorted[0]
	for _, t := range sorted[1:] {
		if t.MinSpend > spend {
			break
		}
		current = t
	}
	return current, nil
}

func ProgressFor(tiers []Tier, spend int64) (Progress, error) {
	current, err := Resolve(tiers, spend)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{Spend: spend, Current: current}
	for _, t := range Sorted(tiers) {
		if t.MinSpend > spend {
			next := t
			p.Next = &next
			p.RemainingToNext = t.MinSpend - spend
			break
		}
	}
	return p, nil
}

// Validate checks that tiers partition [0, +inf) in order. A bounded tier's
// MaxSpend must meet the next MinSpend either inclusively (next-1) or
// exclusively (next). The top tier is unbounded.
func Validate(tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrNoTiers
	}
	names := map[string]struct{}{}
	sorted := Sorted(tiers)
	for i, t := range sorted {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return ErrInvalidName
		}
		if _, dup := names[name]; dup {
			return ErrDuplicateName
		}
		names[name] = struct{}{}
		if t.PointsMultiplier < 0 {
			return ErrInvalidMultiplier
		}
		if i == 0 && t.MinSpend != 0 {
			return ErrInvalidRange.WithMessage("lowest tier must start at 0")
		}
		if i > 0 && t.MinSpend == sorted[i-1].MinSpend {
			return ErrInvalidRange.WithMessage("tiers %q and %q share a threshold", sorted[i-1].Name, t.Name)
		}
		last := i == len(sorted)-1
		if last {
			if t.MaxSpend != nil {
				return ErrInvalidRange.WithMessage("top tier %q must be unbounded", t.Name)
			}
			continue
		}
		if t.MaxSpend != nil {
			next := sorted[i+1].MinSpend
			if *t.MaxSpend != next && *t.MaxSpend != next-1 {
				return ErrInvalidRange.WithMessage("tier %q leaves a gap before %q", t.Name, sorted[i+1].Name)
			}
		}
	}
	return nil
}
