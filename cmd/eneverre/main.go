// Package main provides the eneverre camera gateway entry point
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eneverre/eneverre/internal/api"
	"github.com/eneverre/eneverre/internal/auth"
	"github.com/eneverre/eneverre/internal/camera"
	"github.com/eneverre/eneverre/internal/config"
	"github.com/eneverre/eneverre/internal/control"
	"github.com/eneverre/eneverre/internal/core"
	"github.com/eneverre/eneverre/internal/database"
	"github.com/eneverre/eneverre/internal/events"
	"github.com/eneverre/eneverre/internal/logging"
	"github.com/eneverre/eneverre/internal/metrics"
	"github.com/eneverre/eneverre/internal/relay"
)

const (
	version         = "0.1.0"
	logBufferSize   = 1000
	shutdownTimeout = 30 * time.Second
)

func main() {
	configFlag := flag.String("config", "", "path to eneverre.yaml")
	flag.Parse()

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	if err := run(config.FindConfigFile(*configFlag)); err != nil {
		slog.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logs := logging.NewRingBuffer(logBufferSize)
	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, logs)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("Starting eneverre",
		"version", version,
		"config_path", configPath,
		"cameras_dir", cfg.CamerasDir,
		"relay", cfg.Relay.Enabled(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cameraCfgs, err := config.LoadCameras(cfg.CamerasDir)
	if err != nil {
		return err
	}

	// The relay credential lives only in this process
	cred, err := relay.Provision(cfg.Relay)
	if err != nil {
		return err
	}
	if cred != nil {
		slog.Info("Relay credential provisioned", "relay_host", cfg.Relay.Host, "credential", cred)
	}

	registry, err := camera.Build(cameraCfgs, relay.NewLiveResolver(cfg.Relay, cred))
	if err != nil {
		return err
	}
	slog.Info("Camera registry built", "cameras", registry.Len())

	m := metrics.New()
	m.SetCameras(registry.Len())

	playback := relay.NewProxy(cfg.Relay, cred, registry)
	playback.SetObserver(m)

	gateway := auth.NewGateway(cred)
	gateway.SetObserver(m)

	dispatcher := control.NewDispatcher(registry,
		control.NewExecAgent(cfg.Control.Command, cfg.Control.Timeout), cfg.Control.Actions)
	dispatcher.SetObserver(m)

	deps := api.Deps{
		Cameras:     registry,
		Control:     dispatcher,
		Playback:    playback,
		Relay:       gateway,
		Basic:       auth.NewBasic(cfg.Server.Username, cfg.Server.Password),
		Metrics:     m.Handler(),
		Logs:        logs,
		Checks:      make(map[string]api.HealthCheck),
		CORSOrigins: cfg.Server.CORSOrigins,
	}

	var bus *core.EventBus
	if cfg.Events.Enabled {
		bus, err = core.NewEventBus(core.EventBusConfig{Host: cfg.Events.Host, Port: cfg.Events.Port}, logger)
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		defer bus.Stop()

		dispatcher.SetPublisher(bus)

		hub := api.NewHub(cfg.Server.CORSOrigins)
		if err := hub.Attach(bus); err != nil {
			return fmt.Errorf("failed to attach websocket hub: %w", err)
		}
		go hub.Run(ctx)

		deps.Hub = hub
		deps.Checks["eventbus"] = bus.HealthCheck
	}

	if cfg.Audit.Path != "" {
		db, err := database.Open(database.DefaultConfig(cfg.Audit.Path))
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer db.Close()

		if err := database.NewMigrator(db).Run(ctx); err != nil {
			return fmt.Errorf("failed to migrate audit store: %w", err)
		}

		store := events.NewStore(db)
		if _, err := store.Attach(bus); err != nil {
			return fmt.Errorf("failed to attach audit store: %w", err)
		}

		deps.Audit = store
		deps.Checks["audit"] = db.Health
	}

	if cfg.Server.WatchConfig {
		w, err := config.NewWatcher(func(path string) {
			slog.Warn("Configuration changed on disk; restart to apply", "path", path)
			if bus != nil {
				_ = bus.Publish(events.SubjectConfigChange, events.ConfigChange{Path: path, Timestamp: time.Now()})
			}
		}, configPath, cfg.CamerasDir)
		if err != nil {
			slog.Warn("Config watcher disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.NewServer(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: playback downloads and websockets stream
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Shutting down server...", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
	return nil
}
