/*
Package main implements a command-line client for the climate metrics API.

It fetches the hourly temperature candles for a city and prints them as JSON
or as a table. Without -city it lists the cities that have data.

Usage:

	go run ./cmd/client -server=http://localhost:3333 -city=Berlin -format=table
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kushnirDev98/climate-metrics-dashboard/internal/client"
	"github.com/rs/zerolog"
)

// Command-line flags for configuring the client
var (
	serverAddr = flag.String("server", "http://localhost:3333", "Base URL of the climate metrics server")
	city       = flag.String("city", "", "City to fetch candles for; empty lists cities")
	token      = flag.String("token", os.Getenv("API_TOKEN"), "Bearer token for the API")
	format     = flag.String("format", client.FormatTable, "Output format (json/table)")
	timeout    = flag.Duration("timeout", 10*time.Second, "Request timeout")
)

func main() {
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if err := validateConfig(); err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*serverAddr, *token, *timeout)

	if *city == "" {
		cities, err := c.Cities(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list cities")
		}
		for _, name := range cities {
			fmt.Println(name)
		}
		return
	}

	candles, err := c.Candles(ctx, *city)
	if err != nil {
		log.Fatal().Err(err).Str("city", *city).Msg("failed to fetch candles")
	}

	if err := client.Render(os.Stdout, *city, candles, *format); err != nil {
		log.Fatal().Err(err).Msg("failed to render candles")
	}
}

// validateConfig checks the flags before any request is made.
func validateConfig() error {
	if *serverAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if *format != client.FormatJSON && *format != client.FormatTable {
		return fmt.Errorf("format must be %q or %q", client.FormatJSON, client.FormatTable)
	}
	if *timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}
