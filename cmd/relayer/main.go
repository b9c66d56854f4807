package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Phlame68/monorepo/internal/callback"
	"github.com/Phlame68/monorepo/internal/chain"
	"github.com/Phlame68/monorepo/internal/config"
	"github.com/Phlame68/monorepo/internal/safe"
	"github.com/Phlame68/monorepo/internal/store/postgres"
	"github.com/Phlame68/monorepo/internal/tx"
)

func main() {
	root := &cobra.Command{
		Use:          "relayer",
		Short:        "Transaction relayer for loyalty pools and Safe wallets",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the poller and deploy worker",
		RunE:  runRelayer,
	}

	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("private-key", "", "backend signing key (hex)")
	runCmd.Flags().Duration("poll-interval", 10*time.Second, "receipt poll interval")
	runCmd.Flags().Int("receipt-batch-size", 10, "sent records settled per chain per tick")
	runCmd.Flags().Duration("max-pending-age", 15*time.Minute, "age after which a pending transaction is warned about")
	runCmd.Flags().Uint64("minimum-gas-limit", 100000, "gas estimate floor")
	runCmd.Flags().Duration("receipt-interval", 500*time.Millisecond, "receipt poll interval for blocking sends")
	runCmd.Flags().Duration("receipt-timeout", 60*time.Second, "receipt wait timeout for blocking sends")
	runCmd.Flags().Int("max-retries", 5, "maximum broadcast retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial broadcast retry backoff")
	runCmd.Flags().Duration("deploy-interval", 30*time.Second, "safe deploy queue interval")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate-wallets <to-wallet-id> <from-wallet-id>...",
		Short: "Re-key token and withdrawal references onto one wallet",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runMigrateWallets,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelayer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	registry, err := chain.NewRegistry(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	txBackends := tx.RegistryFunc(func(ctx context.Context, chainID uint64) (tx.Backend, error) {
		return registry.Provider(ctx, chainID)
	})
	safeBackends := safe.RegistryFunc(func(ctx context.Context, chainID uint64) (safe.Backend, error) {
		return registry.Provider(ctx, chainID)
	})

	dispatcher := callback.NewDispatcher(st, logger)
	submitter := tx.NewSubmitter(st, txBackends, dispatcher, tx.Options{
		ReceiptInterval: cfg.ReceiptInterval,
		ReceiptTimeout:  cfg.ReceiptTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
	}, logger)
	poller := tx.NewPoller(st, txBackends, dispatcher, tx.PollerOptions{
		Interval:      cfg.PollInterval,
		BatchSize:     cfg.ReceiptBatchSize,
		MaxPendingAge: cfg.MaxPendingAge,
	}, logger)
	orchestrator := safe.NewOrchestrator(st, safeBackends, submitter, cfg, logger)
	deployWorker := safe.NewDeployWorker(st, orchestrator, cfg.DeployInterval, logger)

	logger.Info("relayer start",
		zap.Int("networks", len(cfg.Networks)),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("receipt_batch_size", cfg.ReceiptBatchSize),
		zap.Duration("deploy_interval", cfg.DeployInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return deployWorker.Run(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runMigrateWallets(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()

	toWalletID := args[0]
	fromWalletIDs := args[1:]

	if _, err := st.GetWallet(ctx, toWalletID); err != nil {
		return fmt.Errorf("load target wallet: %w", err)
	}

	updated, err := st.MigrateWalletRefs(ctx, fromWalletIDs, toWalletID)
	if err != nil {
		return err
	}
	logger.Info("wallet references migrated",
		zap.String("to", toWalletID),
		zap.Strings("from", fromWalletIDs),
		zap.Int64("updated", updated),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
