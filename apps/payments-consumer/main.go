// Consumes payment confirmations from Kafka and confirms the orders they name.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/accrual"
	"github.com/smallbiznis/storefront-ledger/internal/audit"
	"github.com/smallbiznis/storefront-ledger/internal/bonus"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/coupon"
	"github.com/smallbiznis/storefront-ledger/internal/customer"
	"github.com/smallbiznis/storefront-ledger/internal/intake"
	intakekafka "github.com/smallbiznis/storefront-ledger/internal/intake/kafka"
	"github.com/smallbiznis/storefront-ledger/internal/ledger"
	"github.com/smallbiznis/storefront-ledger/internal/observability"
	"github.com/smallbiznis/storefront-ledger/internal/order"
	"github.com/smallbiznis/storefront-ledger/internal/tier"
	"github.com/smallbiznis/storefront-ledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,

		// Domain services required by order confirmation
		audit.Module,
		customer.Module,
		ledger.Module,
		tier.Module,
		bonus.Module,
		coupon.Module,
		accrual.Module,
		order.Module,

		// Broker intake in place of the HTTP server
		intake.Module,
		intakekafka.PaymentsModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
