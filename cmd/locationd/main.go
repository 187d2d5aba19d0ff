package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/location-agent/internal/server"
	"github.com/benmeehan/location-agent/internal/store"
	"github.com/benmeehan/location-agent/internal/utils"
	"github.com/benmeehan/location-agent/pkg/file"
)

func main() {
	configPath := flag.String("config", "configs/locationd.yaml", "path to the server configuration file")
	flag.Parse()

	config, err := utils.LoadServerConfig(*configPath, file.NewFileService())
	if err != nil {
		bootLog := utils.NewLogger("info", "json")
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}

	log := utils.NewLogger(config.Logging.Level, config.Logging.Format).
		With().Str("service", "locationd").Logger()

	ctx := context.Background()

	// Storage
	var st store.Store
	if config.DatabaseURL != "" {
		pg, err := store.OpenPG(ctx, config.DatabaseURL, log.With().Str("component", "postgres").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to postgres")
		}
		st = pg
	} else {
		log.Warn().Msg("No database_url configured, records are kept in memory")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	srv := server.New(st, config, log)
	httpServer := &http.Server{
		Addr:         config.ListenAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", config.ListenAddr).Str("version", config.Version).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
