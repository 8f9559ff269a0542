package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/migration"
	"github.com/smallbiznis/storefront-ledger/internal/observability"
	"github.com/smallbiznis/storefront-ledger/internal/server"
	"github.com/smallbiznis/storefront-ledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		migration.Module,

		// HTTP surface plus every domain service it routes to.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
