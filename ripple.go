package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/ripple/admin"
	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/publisher"
	_ "github.com/maxpert/ripple/publisher/sink"
	"github.com/maxpert/ripple/store"
	"github.com/maxpert/ripple/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const metricsCollectInterval = 15 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Ripple - notification queue")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Change signals shared by the store and the publisher
	hub := notify.NewHub()

	log.Info().Str("path", cfg.GetStorePath()).Msg("Opening notification store")
	storeOpts := store.DefaultOptions()
	storeOpts.Hub = hub
	st, err := store.Open(cfg.GetStorePath(), storeOpts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open notification store")
		return
	}
	defer st.Close()

	collector := telemetry.NewMetricsCollector(st.MetricsProvider(), metricsCollectInterval)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Compaction.Enabled {
		compactor := store.NewCompactor(st, store.DefaultCompactorOptions())
		compactor.Start()
		defer compactor.Stop()
		log.Info().
			Int("interval_seconds", cfg.Config.Compaction.IntervalSeconds).
			Int("file_threshold", cfg.Config.Compaction.FileThreshold).
			Msg("Background compaction enabled")
	}

	var registry *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			Source: st,
			Hub:    hub,
			NodeID: cfg.Config.NodeID,
			Config: cfg.Config.Publisher,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize notification publisher")
			return
		}
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start notification publisher")
			return
		}
		defer registry.Stop()
	}

	var httpServer *http.Server
	if cfg.Config.Admin.Enabled {
		clock := hlc.NewClock(cfg.Config.NodeID)
		httpServer = startHTTPServer(admin.NewAdminHandlers(st, registry, clock))
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("data_dir", cfg.Config.DataDir).
		Int("files", len(st.Files())).
		Msg("Node is operational")

	// Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		cancel()
	}
}

func startHTTPServer(handlers *admin.AdminHandlers) *http.Server {
	httpMux := http.NewServeMux()

	// Register pprof handlers for profiling
	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// Optionally add metrics handler
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		httpMux.Handle("/metrics", metrics)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	admin.RegisterRoutes(httpMux, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Admin HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return httpServer
}
