package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrtrace/internal/config"
	"qrtrace/internal/infra"
	"qrtrace/internal/router"
	"qrtrace/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "One-shot entry point for the scheduled qrtrace tasks",
	Long: `Runs a single pass of a background task and exits, so a cron job or a
container scheduler can drive the queues without an in-process daemon.

Tasks:
- reverse_jobs:  claim and process one pending spoilage replacement job
- intake:        receive the oldest queued batch into its warehouse
- ledger_replay: re-post stock movements parked in the dead-letter list`,
	SilenceUsage: true,
}

func main() {
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
}

func runCmd() *cobra.Command {
	var (
		drain   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one pass of a task (or drain it with --drain N)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			setupLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			runner, closeFn, err := buildRunner(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			if drain > 1 {
				reports, err := runner.Drain(ctx, args[0], drain)
				if perr := printJSON(reports); perr != nil {
					return perr
				}
				return err
			}
			rep, err := runner.Run(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
	cmd.Flags().IntVar(&drain, "drain", 1, "repeat until the task reports idle, at most N passes")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline for the invocation")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the task names accepted by run",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{worker.TaskReverseJobs, worker.TaskIntake, worker.TaskLedgerReplay} {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// Connectors, swapped in tests.
var (
	openDatabase = infra.NewDatabase
	openRedis    = infra.NewRedis
)

func buildRunner(cfg *config.Config) (*worker.Runner, func(), error) {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	ledgerCB := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             "inventory-ledger",
		FailureThreshold: cfg.CBFailureThreshold,
		OpenTimeout:      time.Duration(cfg.CBOpenTimeoutSeconds) * time.Second,
	})
	svcs := router.NewServices(cfg, db, rdb, ledgerCB)
	closeFn := func() {
		_ = rdb.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return svcs.Runner, closeFn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(cfg *config.Config) {
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "worker").Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
