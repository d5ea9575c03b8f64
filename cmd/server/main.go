/*
Package main runs the climate metrics server.

The server keeps a WebSocket connection to an Open-Meteo style weather stream,
folds every valid reading into hourly temperature candles per city and serves
the series over HTTP:

	GET /api/climate-metrics/:city   hourly candles for one city
	GET /api/climate-metrics         cities with data
	GET /health                      liveness and stream state

Configuration comes from the environment (or a .env file):

	OPEN_METEO_URL=ws://localhost:8081 PORT=3333 go run ./cmd/server
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/kushnirDev98/climate-metrics-dashboard/internal/api/http"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/candles"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/config"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/gateway"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize structured logger with timestamp and info level
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := candles.NewAggregator(nil)
	climateService := service.NewClimateService(aggregator, nil)

	stream, err := gateway.NewOpenMeteoGateway(ctx, &gateway.GatewayConfig{
		URL:            cfg.OpenMeteoURL,
		ReconnectDelay: cfg.ReconnectDelay,
		PingPeriod:     cfg.PingPeriod,
	}, climateService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create weather stream gateway")
	}

	app := httpapi.NewApp(httpapi.Config{
		APIToken:     cfg.APIToken,
		CORSOrigin:   cfg.CORSOrigin,
		RateLimitMax: cfg.RateLimitMax,
		StreamState:  func() string { return stream.State().String() },
	}, climateService)

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("stream", cfg.OpenMeteoURL).
			Bool("auth", cfg.APIToken != "").
			Msg("server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	// The first dial can take up to the handshake timeout; Disconnect aborts it.
	go stream.Connect()

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during http shutdown")
	}
	stream.Disconnect()

	log.Info().Msg("server stopped")
}
