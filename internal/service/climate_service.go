// Package service provides the orchestration layer between the weather stream,
// the candle aggregation engine and the query API.
//
// ClimateService adds structured logging around the ingestion path and
// otherwise passes every call through to the aggregator unmodified.
package service

import (
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CandleAggregator defines the interface for components that fold climate
// events into hourly candles and answer per-city queries.
type CandleAggregator interface {
	// ProcessEvent validates and applies one event. Invalid events are dropped.
	ProcessEvent(event model.ClimateEvent)

	// CandlesByCity returns the candles for a city, oldest bucket first.
	CandlesByCity(city string) []model.Candle

	// Cities lists the cities that have at least one candle.
	Cities() []string
}

// ClimateService wires stream output and API queries to a CandleAggregator.
type ClimateService struct {
	aggregator CandleAggregator
	logger     zerolog.Logger
}

// NewClimateService creates a ClimateService. A nil logger means the global logger.
func NewClimateService(aggregator CandleAggregator, logger *zerolog.Logger) *ClimateService {
	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &ClimateService{
		aggregator: aggregator,
		logger:     l.With().Str("component", "climate_service").Logger(),
	}
}

// ProcessEvent logs the event and delegates it to the aggregator.
func (s *ClimateService) ProcessEvent(event model.ClimateEvent) {
	s.logger.Info().
		Str("city", event.City).
		Str("timestamp", event.Timestamp).
		Msg("processing climate event")

	s.aggregator.ProcessEvent(event)
}

// Candlesticks returns the hourly candles for city as produced by the aggregator.
func (s *ClimateService) Candlesticks(city string) []model.Candle {
	return s.aggregator.CandlesByCity(city)
}

// Cities returns the cities known to the aggregator.
func (s *ClimateService) Cities() []string {
	return s.aggregator.Cities()
}
