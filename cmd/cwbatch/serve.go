package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/cwbatch/internal/api"
	"github.com/MikeSquared-Agency/cwbatch/internal/hermes"
	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tracked job state and metrics over HTTP",
	Long: `Starts a read-only HTTP server exposing /health, /metrics and the tracked
jobs under /api/v1/jobs. When NATS_URL is set, job transitions published by
"run" are counted into the served metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()

	events, err := connectEvents(ctx)
	if err != nil {
		return err
	}
	if events != nil {
		defer events.Close()
		if err := events.Subscribe(hermes.SubjectJobAll, func(subject string, data []byte) {
			var ev hermes.JobEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("malformed job event", "subject", subject, "error", err)
				return
			}
			m.Transition(ev.From, ev.To)
		}); err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, store, m)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("cwbatch serving", "port", cfg.Port, "state_driver", cfg.StateDriver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	slog.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("cwbatch stopped")
	return nil
}
