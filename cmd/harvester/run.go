package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/contrib-harvester/internal/config"
	"github.com/Sternrassler/contrib-harvester/pkg/logging"
	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

type runOptions struct {
	tasksFile string
	dryRun    bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest every window listed in a task file",
		Long: `run fetches the windows listed in --tasks, persists each entity's
results once all its windows are done, and prints a summary.

Entities a previous run completed are skipped while store.skip_processed
is set. Interrupting the run (SIGINT, SIGTERM) stops it; entities still
in flight are not persisted and are fetched again by the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tasksFile, "tasks", "", "task file (YAML)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print what would be fetched and exit")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func runHarvest(ctx context.Context, root *rootOptions, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	logger = logging.WithRun(logger, runID)

	var requests []window.Request
	if cfg.Source == config.SourceAccessibility {
		requests, err = loadBatches(opts.tasksFile, time.Now())
	} else {
		requests, err = loadTasks(opts.tasksFile, cfg.Window.Span)
	}
	if err != nil {
		return err
	}
	entities := entityIDs(requests)
	logger.Info().
		Int("entities", len(entities)).
		Int("requests", len(requests)).
		Str("tasks", opts.tasksFile).
		Msg("Loaded tasks")

	if opts.dryRun {
		for _, r := range requests {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", r.EntityID, r.Kind, r.Window)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close components")
		}
	}()

	if cfg.Store.SkipProcessed {
		requests, err = pendingRequests(ctx, a.store, requests, logger)
		if err != nil {
			return err
		}
	}
	a.progress.SetTotal(len(entityIDs(requests)))

	if cfg.Metrics.Addr != "" {
		srv := newServer(cfg.Metrics.Addr)
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	start := time.Now()
	summary := orchestrator.Collect(a.orch.Run(ctx, requests))
	elapsed := time.Since(start)

	logger.Info().
		Int("entities", summary.Entities).
		Int("results", summary.Results).
		Int("ok", summary.Counts[orchestrator.StatusOK]).
		Int("partial", summary.Counts[orchestrator.StatusPartial]).
		Int("failed", summary.Counts[orchestrator.StatusFailed]).
		Int("not_found", summary.Counts[orchestrator.StatusNotFound]).
		Int("persist_errors", summary.PersistErrors).
		Dur("elapsed", elapsed).
		Msg("Run finished")

	renderSummary(os.Stdout, summary, runID, elapsed)

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return nil
}
