package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/batch"
	"github.com/MikeSquared-Agency/cwbatch/internal/config"
	"github.com/MikeSquared-Agency/cwbatch/internal/hermes"
	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "cwbatch",
	Short: "Batch annotation pipeline for check-worthy claims",
	Long: `cwbatch turns wide conversation tables into per-turn annotation units,
submits them as LLM batch jobs, tracks those jobs across invocations,
reconciles the answers back onto rows and scores them against gold labels.

Every invocation of "run" performs one step per job and exits; schedule it
(cron, CI, by hand) until all jobs are DONE or FAILED.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.LogLevel, cmd.ErrOrStderr())
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging writes JSON logs to w so command output on stdout stays clean.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// openStore opens the configured job state store.
func openStore(ctx context.Context) (tracker.Store, error) {
	store, err := tracker.Open(ctx, cfg.StateDriver, cfg.StatePath, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open job state: %w", err)
	}
	return store, nil
}

// connectEvents returns a NATS client, or nil when NATS_URL is unset.
func connectEvents(ctx context.Context) (*hermes.Client, error) {
	if cfg.NatsURL == "" {
		return nil, nil
	}
	client, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("NATS connected", "url", cfg.NatsURL)
	return client, nil
}

// newTracker wires the batch client, store, events and metrics together.
func newTracker(store tracker.Store, events *hermes.Client, m *metrics.Metrics) (*tracker.Tracker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	client := batch.NewHTTPClient(cfg.APIKey, cfg.BaseURL, cfg.RPS, slog.Default())
	opts := []tracker.Option{tracker.WithMetrics(m)}
	if events != nil {
		opts = append(opts, tracker.WithEvents(events))
	}
	return tracker.New(client, store, cfg.OutputDir, slog.Default(), opts...), nil
}

func flushEvents(events *hermes.Client) {
	if events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := events.Flush(ctx); err != nil {
		slog.Warn("failed to flush events", "error", err)
	}
	events.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
