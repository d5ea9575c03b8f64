// Package utils provides common utility functions for data validation.
//
// This package contains utilities for working with climate telemetry, including
// validating city names, temperature readings and ISO-8601 timestamps, and
// computing the hour bucket a reading belongs to.
package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	// MinTemperature is the lowest accepted reading in degrees Celsius.
	MinTemperature = -50.0

	// MaxTemperature is the highest accepted reading in degrees Celsius.
	MaxTemperature = 60.0
)

// Error definitions for validation functions
var (
	ErrEmptyCity          = errors.New("city cannot be empty")
	ErrTemperatureNaN     = errors.New("temperature is not a finite number")
	ErrTemperatureRange   = errors.New("temperature out of range")
	ErrTimestampMalformed = errors.New("timestamp is not a valid ISO-8601 instant")
)

// streamTimestampPattern is the shape the upstream stream is allowed to send:
// minutes precision with optional seconds and an optional trailing Z.
var streamTimestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2})?(Z)?$`)

// timestampLayouts are tried in order by ParseTimestamp. Layouts without a
// zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ValidateCity checks that a city name is usable as a store key.
func ValidateCity(city string) error {
	if city == "" {
		return ErrEmptyCity
	}
	return nil
}

// ValidateTemperature checks that a reading is finite and within
// [MinTemperature, MaxTemperature].
func ValidateTemperature(temperature float64) error {
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return ErrTemperatureNaN
	}
	if temperature < MinTemperature || temperature > MaxTemperature {
		return fmt.Errorf("%w: %v not in [%v, %v]",
			ErrTemperatureRange, temperature, MinTemperature, MaxTemperature)
	}
	return nil
}

// ParseTimestamp parses an ISO-8601 instant, with or without seconds and with
// or without a zone designator, and returns it in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrTimestampMalformed)
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampMalformed, value)
}

// IsStreamTimestamp reports whether value matches the timestamp shape accepted
// on the inbound stream.
func IsStreamTimestamp(value string) bool {
	return streamTimestampPattern.MatchString(value)
}

// HourBucket floors an instant to the start of its UTC hour.
func HourBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}
