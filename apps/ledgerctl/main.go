// Command ledgerctl runs schema and ledger maintenance outside the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront-ledger/internal/cache"
	"github.com/smallbiznis/storefront-ledger/internal/clock"
	"github.com/smallbiznis/storefront-ledger/internal/config"
	"github.com/smallbiznis/storefront-ledger/internal/customer"
	"github.com/smallbiznis/storefront-ledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/storefront-ledger/internal/ledger/domain"
	"github.com/smallbiznis/storefront-ledger/internal/migration"
	"github.com/smallbiznis/storefront-ledger/internal/observability"
	"github.com/smallbiznis/storefront-ledger/internal/seed"
	"github.com/smallbiznis/storefront-ledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Schema and loyalty ledger maintenance",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newReconcileCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				conn *gorm.DB
				cfg  config.Config
			)
			return withApp(cmd.Context(), []fx.Option{fx.Populate(&conn, &cfg)}, func(context.Context) error {
				if err := migration.Apply(conn, cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert default tiers, bonus settings and redemption rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var conn *gorm.DB
			return withApp(cmd.Context(), []fx.Option{fx.Populate(&conn)}, func(ctx context.Context) error {
				report, err := seed.EnsureDefaults(ctx, conn)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var (
		customerID string
		lockTTL    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached balances with ledger sums",
		Long: "Reconcile checks one customer (--customer) or every customer. It exits non-zero " +
			"when any cached balance differs from its ledger sum.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				ledgerSvc ledgerdomain.Service
				locker    *cache.Locker
				log       *zap.Logger
			)
			opts := []fx.Option{
				customer.Module,
				ledger.Module,
				fx.Populate(&ledgerSvc, &locker, &log),
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context) error {
				run := func(ctx context.Context) error {
					return reconcile(ctx, cmd, ledgerSvc, customerID)
				}
				if locker == nil {
					log.Warn("redis disabled, reconciling without a lock")
					return run(ctx)
				}
				err := locker.WithLock(ctx, cache.LockKey("reconcile"), lockTTL, run)
				if errors.Is(err, cache.ErrLockHeld) {
					return fmt.Errorf("another reconciliation is running")
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "reconcile a single customer id")
	cmd.Flags().DurationVar(&lockTTL, "lock-ttl", 10*time.Minute, "how long the reconciliation lock is held at most")
	return cmd
}

var errMismatch = errors.New("ledger mismatch detected")

func reconcile(ctx context.Context, cmd *cobra.Command, svc ledgerdomain.Service, customerID string) error {
	if customerID != "" {
		rec, err := svc.Reconcile(ctx, customerID)
		if printErr := printJSON(cmd, map[string]any{
			"customer_id": rec.CustomerID,
			"cached":      rec.Cached,
			"ledger_sum":  rec.LedgerSum,
			"consistent":  rec.Consistent(),
		}); printErr != nil {
			return printErr
		}
		if err != nil {
			return err
		}
		return nil
	}

	summary, err := svc.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, summary); err != nil {
		return err
	}
	if len(summary.Mismatches) > 0 {
		return errMismatch
	}
	return nil
}

// withApp boots only infrastructure plus opts, runs fn between start and stop.
func withApp(ctx context.Context, opts []fx.Option, fn func(context.Context) error) error {
	base := []fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
	}
	app := fx.New(append(base, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(4)
	if err != nil {
		panic(err)
	}
	return node
}
