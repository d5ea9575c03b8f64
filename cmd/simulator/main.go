/*
Package main runs a local Open-Meteo weather stream simulator.

Every SIMULATOR_INTERVAL the simulator fetches the current weather for a random
city from the Open-Meteo forecast API and pushes it to all WebSocket clients
connected on SIMULATOR_PORT.

Usage:

	SIMULATOR_PORT=8081 SIMULATOR_INTERVAL=5s go run ./cmd/simulator
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kushnirDev98/climate-metrics-dashboard/internal/config"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/simulator"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadSimulator()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := simulator.New(simulator.Config{
		Fetcher:  simulator.NewOpenMeteoFetcher(simulator.FetcherConfig{BaseURL: cfg.ForecastURL}),
		Interval: cfg.Interval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create simulator")
	}
	if err := sim.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start simulator")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sim,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("url", "ws://localhost:"+cfg.Port).Msg("simulator websocket server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("simulator server stopped")
			stop()
		}
	}()

	<-ctx.Done()

	sim.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
