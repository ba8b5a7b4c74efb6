package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulgrammer/vidtrack/internal/config"
	"github.com/paulgrammer/vidtrack/internal/genapi"
	"github.com/paulgrammer/vidtrack/internal/httpapi"
	"github.com/paulgrammer/vidtrack/internal/jobs"
	"github.com/paulgrammer/vidtrack/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()})))

	// Core components
	client, err := genapi.NewClient(genapi.Config{
		BaseURL:           cfg.BackendURL,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
	})
	if err != nil {
		slog.Error("failed to initialize backend client", "error", err)
		os.Exit(1)
	}

	opts := []jobs.Option{
		jobs.WithPollInterval(cfg.PollInterval()),
		jobs.WithOwner(cfg.Owner),
	}
	if cfg.WebhookURL != "" {
		sender := webhook.NewHTTPSender(cfg.WebhookTimeout(), cfg.WebhookMaxRetries)
		opts = append(opts, jobs.WithNotifier(sender, cfg.WebhookURL))
	}
	tracker, err := jobs.NewTracker(client, opts...)
	if err != nil {
		slog.Error("failed to initialize tracker", "error", err)
		os.Exit(1)
	}
	defer tracker.Shutdown()

	streamer := httpapi.NewStreamer()
	go streamer.Run(tracker.Subscribe())

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	if err := tracker.Start(startCtx); err != nil {
		// the backend may come up later; POST /jobs/reload retries
		slog.Warn("initial job load failed", "owner", tracker.Owner(), "error", err)
	}
	cancelStart()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(tracker, client, streamer),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr, "backend", cfg.BackendURL, "owner", tracker.Owner())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}
