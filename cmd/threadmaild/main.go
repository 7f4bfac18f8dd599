// Package main is the entry point for the threadmaild daemon.
// threadmaild runs the support-ticketing bridge: it relays user direct
// messages into staff channels, schedules closures and archives
// conversation logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadmail/threadmail/internal/bridge"
	"github.com/threadmail/threadmail/internal/chat"
	"github.com/threadmail/threadmail/internal/config"
	"github.com/threadmail/threadmail/internal/events"
	"github.com/threadmail/threadmail/internal/logging"
	"github.com/threadmail/threadmail/internal/logstore"
	"github.com/threadmail/threadmail/internal/settings"
	"github.com/threadmail/threadmail/internal/task"
	"github.com/threadmail/threadmail/internal/thread"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "", "config file (default is $HOME/.config/threadmail/config.yaml)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	dryRun := flag.Bool("dry-run", false, "run against the in-memory transport instead of a live service")
	flag.Parse()

	// A missing .env is fine; explicit config still wins over it.
	_ = godotenv.Load()

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("threadmaild")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("threadmaild starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*dryRun && cfg.Token() == "" {
		logger.Error().Str("token_ref", cfg.Chat.TokenRef).Msg("transport token not set")
		os.Exit(1)
	}

	st, err := settings.Open(cfg.SettingsDBPath(), logging.Component("settings"))
	if err != nil {
		logger.Error().Err(err).Msg("failed to open settings store")
		os.Exit(1)
	}
	defer st.Close()

	logs, err := logstore.Open(cfg.LogsDBPath(), logging.Component("logstore"),
		logstore.WithBaseURL(func() string {
			return st.StringOr(settings.KeyLogURL, cfg.LogViewer.BaseURL)
		}))
	if err != nil {
		logger.Error().Err(err).Msg("failed to open log store")
		os.Exit(1)
	}
	defer logs.Close()

	// The concrete service client is wired in deployments; the daemon
	// itself only knows the transport contract. Until one is attached,
	// the in-memory client backs dry runs and local development.
	memory := chat.NewInMemoryClient()
	directory := chat.NewInMemoryDirectory(&chat.User{
		ID:   1,
		Name: "threadmail",
		Bot:  true,
	})
	var client chat.Client = chat.RateLimited(memory, cfg.Chat.RatePerSecond, cfg.Chat.RateBurst)

	tasks := task.NewRunner(logging.Component("task"))
	publisher := events.NewInMemoryPublisher()

	registry := thread.NewRegistry(thread.Deps{
		Client:    client,
		Directory: directory,
		Logs:      logs,
		Settings:  st,
		Events:    publisher,
		Tasks:     tasks,
		Logger:    logging.Component("thread"),
	})

	svc := bridge.New(registry, client, directory, st, tasks, logging.Logger, bridge.Options{})
	if err := svc.RearmClosures(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to re-arm pending closures")
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listener started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	logger.Info().Bool("dry_run", *dryRun).Msg("bridge ready")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics listener shutdown failed")
		}
	}
	tasks.Wait()
	if err := st.Update(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to flush settings on shutdown")
	}
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
