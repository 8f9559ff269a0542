// Package testkit wires an in-memory database and deterministic collaborators
// for service tests.
package testkit

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/migration"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the default fake time: mid-month, so month boundaries are far.
var Epoch = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

// OpenDB returns a migrated in-memory sqlite database private to t. A single
// connection keeps the shared-cache database alive and serializes writers.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(migration.Models()...))
	return conn
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func Clock() *clock.FakeClock {
	return clock.NewFakeClock(Epoch)
}

// Loyalty pins the default policy with any overrides applied.
func Loyalty(overrides ...func(*config.LoyaltyConfig)) *config.LoyaltyConfigHolder {
	cfg := config.DefaultLoyaltyConfig()
	for _, apply := range overrides {
		apply(&cfg)
	}
	return config.NewStaticLoyaltyConfigHolder(cfg)
}
