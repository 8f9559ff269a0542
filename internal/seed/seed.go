package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bonusdomain "github.com/smallbiznis/storefront-ledger/internal/bonus/domain"
	redemptiondomain "github.com/smallbiznis/storefront-ledger/internal/redemption/domain"
	tierdomain "github.com/smallbiznis/storefront-ledger/internal/tier/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Report counts rows created by EnsureDefaults.
type Report struct {
	Tiers         int
	BonusSettings int
	Rules         int
}

func i64(v int64) *int64 { return &v }

// DefaultTiers is the stock ladder in minor currency units.
func DefaultTiers() []tierdomain.Tier {
	return []tierdomain.Tier{
		{Name: "Bronze", MinSpend: 0, MaxSpend: i64(99999), PointsMultiplier: 1},
		{Name: "Prata", MinSpend: 100000, MaxSpend: i64(299999), PointsMultiplier: 1.5},
		{Name: "Ouro", MinSpend: 300000, PointsMultiplier: 2},
	}
}

func DefaultBonusSettings() map[string]int64 {
	return map[string]int64{
		bonusdomain.KeyBirthdayBonus:        100,
		bonusdomain.KeyReferralBonus:        200,
		bonusdomain.KeyTicketThreshold:      30000,
		bonusdomain.KeyTicketBonus:          50,
		bonusdomain.KeyRecurrenceBonus2:     20,
		bonusdomain.KeyRecurrenceBonus3:     40,
		bonusdomain.KeyRecurrenceBonus4Plus: 60,
	}
}

func DefaultRules() []redemptiondomain.Rule {
	return []redemptiondomain.Rule{
		{Name: "R$10 off", PointsCost: 500, DiscountValue: 1000, MinOrderValue: 5000, IsActive: true},
		{Name: "R$25 off", PointsCost: 1000, DiscountValue: 2500, MinOrderValue: 10000, IsActive: true},
	}
}

// EnsureDefaults seeds an empty database. Tiers and rules are written only
// when their table is empty; bonus settings fill in missing keys and never
// overwrite an operator's value.
func EnsureDefaults(ctx context.Context, db *gorm.DB) (Report, error) {
	if db == nil {
		return Report{}, errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return Report{}, err
	}

	var report Report
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var tierCount int64
		if err := tx.Model(&tierdomain.Tier{}).Count(&tierCount).Error; err != nil {
			return err
		}
		if tierCount == 0 {
			tiers := DefaultTiers()
			for i := range tiers {
				tiers[i].ID = node.Generate()
				tiers[i].CreatedAt = now
				tiers[i].UpdatedAt = now
			}
			if err := tx.Create(&tiers).Error; err != nil {
				return err
			}
			report.Tiers = len(tiers)
		}

		for _, name := range bonusdomain.Keys {
			row := bonusdomain.Setting{Name: name, Value: DefaultBonusSettings()[name], UpdatedAt: now}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			report.BonusSettings += int(res.RowsAffected)
		}

		var ruleCount int64
		if err := tx.Model(&redemptiondomain.Rule{}).Count(&ruleCount).Error; err != nil {
			return err
		}
		if ruleCount == 0 {
			rules := DefaultRules()
			for i := range rules {
				rules[i].ID = node.Generate()
				rules[i].CreatedAt = now
				rules[i].UpdatedAt = now
			}
			if err := tx.Create(&rules).Error; err != nil {
				return err
			}
			report.Rules = len(rules)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}
