// Package candles provides hourly OHLC (Open, High, Low, Close) candlestick aggregation
// of per-city temperature readings.
//
// Thread Safety:
//   - Writes are serialized by the aggregator's mutex; ingestion delivers events
//     from a single read loop per connection so writes never race each other
//   - Reads take the read lock and return copies, never live views into the store
//   - Neither ProcessEvent nor CandlesByCity blocks beyond lock acquisition
package candles

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/utils"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Validation errors reported for dropped events.
var (
	ErrInvalidCity        = errors.New("invalid or missing city")
	ErrInvalidTemperature = errors.New("invalid temperature")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
)

// EventError identifies the field that caused an event to be rejected.
type EventError struct {
	Field string
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// store maps city -> hour bucket -> candle. Buckets are keyed by their
// canonical rendering so lookups never depend on time.Time location pointers.
type store map[string]map[string]*model.Candle

// Aggregator owns the candle store and folds validated climate events into it.
//
// A city entry is created on its first valid event, a candle on the first valid
// event in its hour, and nothing is ever evicted.
type Aggregator struct {
	mu     sync.RWMutex
	store  store
	logger zerolog.Logger
}

// NewAggregator creates an empty aggregator. A nil logger falls back to the
// global logger.
func NewAggregator(logger *zerolog.Logger) *Aggregator {
	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &Aggregator{
		store:  make(store),
		logger: l.With().Str("component", "aggregator").Logger(),
	}
}

// Validate checks an event in order: city, temperature, timestamp. The returned
// error is an *EventError wrapping one of the package sentinels.
func Validate(event model.ClimateEvent) (time.Time, error) {
	if err := utils.ValidateCity(event.City); err != nil {
		return time.Time{}, &EventError{Field: "city", Err: fmt.Errorf("%w: %v", ErrInvalidCity, err)}
	}

	if err := utils.ValidateTemperature(event.Temperature); err != nil {
		return time.Time{}, &EventError{Field: "temperature", Err: fmt.Errorf("%w: %v", ErrInvalidTemperature, err)}
	}

	ts, err := utils.ParseTimestamp(event.Timestamp)
	if err != nil {
		return time.Time{}, &EventError{Field: "timestamp", Err: fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)}
	}

	return ts, nil
}

// ProcessEvent validates an event and upserts the candle for its city and hour.
//
// Invalid events are logged and dropped without touching the store. Close
// always reflects the most recently processed event of the bucket, not the
// chronologically latest one.
func (agg *Aggregator) ProcessEvent(event model.ClimateEvent) {
	ts, err := Validate(event)
	if err != nil {
		var ee *EventError
		field := ""
		if errors.As(err, &ee) {
			field = ee.Field
		}
		agg.logger.Error().
			Err(err).
			Str("field", field).
			Interface("event", event).
			Msg("failed to process event")
		return
	}

	bucket := utils.HourBucket(ts)
	key := bucket.Format(model.BucketLayout)

	agg.mu.Lock()
	defer agg.mu.Unlock()

	// Get or create the city's buckets
	cityCandles, found := agg.store[event.City]
	if !found {
		cityCandles = make(map[string]*model.Candle)
		agg.store[event.City] = cityCandles
	}

	current, found := cityCandles[key]
	if !found {
		candle := model.NewCandle(bucket, event.Temperature)
		cityCandles[key] = &candle
		agg.logger.Info().
			Str("city", event.City).
			Str("bucket", key).
			Interface("candle", candle).
			Msg("created new candle")
		return
	}

	current.Apply(event.Temperature)
	agg.logger.Info().
		Str("city", event.City).
		Str("bucket", key).
		Interface("candle", *current).
		Msg("updated candle")
}

// CandlesByCity returns a snapshot of every candle for the city ordered by
// bucket ascending. Empty or unknown cities yield an empty, non-nil slice.
func (agg *Aggregator) CandlesByCity(city string) []model.Candle {
	if err := utils.ValidateCity(city); err != nil {
		agg.logger.Warn().Str("city", city).Msg("invalid city parameter")
		return []model.Candle{}
	}

	agg.mu.RLock()
	cityCandles, found := agg.store[city]
	if !found {
		agg.mu.RUnlock()
		agg.logger.Warn().Str("city", city).Msg("no candlesticks found for city")
		return []model.Candle{}
	}

	result := make([]model.Candle, 0, len(cityCandles))
	for _, candle := range cityCandles {
		result = append(result, *candle)
	}
	agg.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Start.Before(result[j].Start)
	})

	agg.logger.Debug().Str("city", city).Int("candles", len(result)).Msg("fetched candlesticks for city")
	return result
}

// Cities returns the names of every city with at least one candle, sorted.
func (agg *Aggregator) Cities() []string {
	agg.mu.RLock()
	defer agg.mu.RUnlock()

	cities := make([]string, 0, len(agg.store))
	for city := range agg.store {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}
