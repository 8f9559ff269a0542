package migration

import (
	"context"

	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates and seeds on startup so a fresh database is usable
// immediately.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Apply(conn, cfg); err != nil {
			return err
		}
		report, err := seed.EnsureDefaults(context.Background(), conn)
		if err != nil {
			return err
		}
		log.Info("schema ready",
			zap.Int("tiers_seeded", report.Tiers),
			zap.Int("bonus_settings_seeded", report.BonusSettings),
			zap.Int("rules_seeded", report.Rules),
		)
		return nil
	}),
)
