package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/scales"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/transport"
	"zwave-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zwave-go-home starting", "version", version)

	registry := cc.NewRegistry(logger)
	classes.RegisterStandard(registry)
	logger.Info("command class registry initialized", "classes", len(registry.All()))

	table, err := scales.Load(cfg.ScalesFile, logger)
	if err != nil {
		logger.Error("load scales", "err", err)
		os.Exit(1)
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	port, err := transport.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud, logger)
	if err != nil {
		logger.Error("open serial", "err", err)
		os.Exit(1)
	}
	defer port.Close()

	// validate already checked both.
	versions, _ := cfg.versions()
	timeout, _ := cfg.requestTimeout()

	events := driver.NewEventBus(logger)
	drv := driver.New(port, registry, db, events, driver.Config{
		Versions:         versions,
		RequestTimeout:   timeout,
		ControllerNodeID: cfg.ControllerNodeID,
	}, logger.With("component", "driver"))

	// No-op when built with no_automation.
	auto, autoWebOpts := initAutomation(drv, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithScales(table),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)

	webServer, err := web.NewServer(drv, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// No-op when built with no_mqtt.
	mqtt := initMQTT(drv, table, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	drv.Stop()

	logger.Info("goodbye")
}
