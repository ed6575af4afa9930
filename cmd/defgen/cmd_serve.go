package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"defgen/internal/consistency"
	"defgen/internal/generation"
	"defgen/internal/llm"
	"defgen/internal/rules"
	"defgen/internal/server"
	"defgen/internal/usage"
)

// serveCmd runs the HTTP surface used by the UI.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prepare/validate/generate API over HTTP",
	Long: `Starts the HTTP API. A catalog with contradicting directives is refused.
When a catalog file is configured with watch enabled, edits to the file are
picked up without a restart unless they introduce a contradiction. /api/generate is only
available when an LLM API key is configured.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	store, err := loadStore()
	if err != nil {
		return err
	}
	validator, err := consistency.NewValidator()
	if err != nil {
		return err
	}
	if err := validator.Validate(store.Current()); err != nil {
		return fmt.Errorf("refusing to serve catalog %s: %w", store.Current().Version(), err)
	}

	reg := prometheus.NewRegistry()
	rec, err := usage.Open(cfg.Telemetry, reg)
	if err != nil {
		return err
	}
	defer closeRecorder(rec)

	svc, err := generation.NewFromConfig(cfg, store, rec)
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithStats(rec), server.WithGatherer(reg)}
	if cfg.RequireLLM() == nil {
		completer, err := llm.NewFromConfig(ctx, cfg.LLM)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithCompleter(completer))
		logger.Info("LLM collaborator enabled", zap.String("provider", completer.Name()), zap.String("model", cfg.LLM.Model))
	} else {
		logger.Info("No LLM API key configured, /api/generate disabled")
	}

	if cfg.Catalog.Watch && cfg.Catalog.Path != "" {
		w, err := rules.NewWatcher(cfg.Catalog.Path, store, cfg.GetMatchTimeout())
		if err != nil {
			return err
		}
		// Edits that make the catalog contradict itself are not swapped in.
		w.SetGuard(validator.Validate)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		logger.Info("Watching catalog", zap.String("path", cfg.Catalog.Path))
	}

	logger.Info("Starting server",
		zap.String("listen", cfg.Server.Listen),
		zap.String("catalog", store.Current().Version()))
	return server.New(svc, opts...).ListenAndServe(ctx, cfg.Server.Listen, cfg.GetReadTimeout(), cfg.GetWriteTimeout())
}
