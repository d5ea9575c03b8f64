// Package model defines core data types for the climate metrics service.
//
// This package contains the inbound weather telemetry event and the hourly
// candlestick aggregate derived from it. Temperatures are plain float64 values
// in degrees Celsius; validity rules live with the components that enforce them.
package model

import "time"

// BucketLayout is the canonical rendering of an hour bucket.
const BucketLayout = "2006-01-02T15:00:00Z"

// ClimateEvent represents a single weather reading for a city as delivered by
// the upstream stream.
//
// The event is untrusted until the aggregation engine has validated it: the
// city must be non-empty, the temperature finite and within range, and the
// timestamp parseable. Windspeed and winddirection are carried through untouched.
type ClimateEvent struct {
	City          string  `json:"city"`          // City name (e.g., "Berlin")
	Timestamp     string  `json:"timestamp"`     // ISO-8601 instant, seconds and zone optional
	Temperature   float64 `json:"temperature"`   // Degrees Celsius
	WindSpeed     float64 `json:"windspeed"`     // km/h
	WindDirection float64 `json:"winddirection"` // Degrees
}

// Candle represents the OHLC aggregate of temperature readings for one city
// over one UTC hour.
//
// Fields:
//   - Open: temperature of the first event processed for the hour
//   - High: highest temperature seen in the hour
//   - Low: lowest temperature seen in the hour
//   - Close: temperature of the most recently processed event in the hour
//   - Timestamp: hour bucket rendered with BucketLayout
//   - Start: hour bucket as a time value, used for ordering
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Timestamp string    `json:"timestamp"`
	Start     time.Time `json:"-"`
}

// NewCandle opens a candle for the given hour bucket with a single reading.
func NewCandle(start time.Time, temperature float64) Candle {
	start = start.UTC()
	return Candle{
		Open:      temperature,
		High:      temperature,
		Low:       temperature,
		Close:     temperature,
		Timestamp: start.Format(BucketLayout),
		Start:     start,
	}
}

// Apply folds another reading into the candle. Open is never modified.
func (c *Candle) Apply(temperature float64) {
	if temperature > c.High {
		c.High = temperature
	}
	if temperature < c.Low {
		c.Low = temperature
	}
	c.Close = temperature
}
