package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relaysync/engine/internal/config"
	"github.com/relaysync/engine/internal/engine"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "syncengine",
		Short: "Mirrors CRM entries into a workspace database and stages writes back",
	}
	root.AddCommand(runCmd(), onceCmd(), listPairsCmd(), clearActiveCmd())
	return root
}

func configureLogging() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncengine").Logger()
	if os.Getenv("ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func buildEngine(ctx context.Context) (*engine.Engine, error) {
	configureLogging()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return engine.New(ctx, cfg, prometheus.NewRegistry())
}

// runCmd starts the scheduler and blocks until SIGINT/SIGTERM, mirroring
// every active SyncPair on its configured period.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and sync every active pair on its period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Scheduler.Initialize(ctx); err != nil {
				return fmt.Errorf("initialize scheduler: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			log.Info().Msg("scheduler started")
			<-sigChan

			log.Info().Msg("shutting down gracefully...")
			eng.Scheduler.StopAll()
			return nil
		},
	}
}

// onceCmd runs a single sync invocation for one pair and prints its
// HistoryEntry as JSON, for operator-driven ad-hoc runs and CI smoke
// checks.
func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once <syncPairId>",
		Short: "Run a single sync for one pair and print its history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var pairID int64
			if _, err := fmt.Sscanf(args[0], "%d", &pairID); err != nil {
				return fmt.Errorf("invalid syncPairId %q: %w", args[0], err)
			}

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			entry, runErr := eng.Runner.Run(ctx, pairID)
			out, marshalErr := json.MarshalIndent(entry, "", "  ")
			if marshalErr == nil {
				fmt.Println(string(out))
			}
			return runErr
		},
	}
}

// listPairsCmd prints every configured SyncPair, for operator visibility
// into what the scheduler would arm on the next `run`.
func listPairsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-pairs",
		Short: "List configured sync pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			pairs, err := eng.Store.ListSyncPairs(ctx)
			if err != nil {
				return fmt.Errorf("list sync pairs: %w", err)
			}
			out, err := json.MarshalIndent(pairs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// clearActiveCmd is the operator escape hatch (spec §4.9): it forces the
// runner's active-run bookkeeping empty. That bookkeeping lives in process
// memory and this command builds its own engine, so it clears only its
// own process's set; a separately running `run` process is not affected.
// It is marked unsafe rather than wired into `run`.
func clearActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-active",
		Short: "UNSAFE: clear the active-run set of this command's own engine",
		Long: "Forces the active-run bookkeeping of the engine this command builds " +
			"empty. The set is held in process memory, so another running " +
			"syncengine process is not affected by this command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.Scheduler.ClearActive()
			log.Warn().Msg("active-run set cleared")
			return nil
		},
	}
}
