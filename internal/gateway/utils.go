// Package gateway connects upstream weather telemetry streams to the aggregation engine.
//
// This file contains shared configuration, error types and validation helpers
// used by the stream connectors.
package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidConfig indicates that the provided GatewayConfig contains invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMalformedPayload indicates an inbound message that is not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")
)

// GatewayConfig provides configuration parameters for stream connectors.
type GatewayConfig struct {
	// URL is the WebSocket endpoint of the upstream stream.
	URL string

	// ReconnectDelay is passed through to the client unvalidated.
	ReconnectDelay time.Duration

	// PingPeriod is the keepalive interval.
	PingPeriod time.Duration

	// Clock and Dialer are test seams, nil means real implementations.
	Clock  clock.Clock
	Dialer websocket.Dialer

	// Logger overrides the global logger.
	Logger *zerolog.Logger
}

// ParseError reports an inbound message that could not be parsed at all.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SchemaError reports a parsed message whose fields do not match the
// ClimateEvent shape. Fields maps a field name to what was wrong with it.
type SchemaError struct {
	Payload string
	Fields  map[string]string
}

func (e *SchemaError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// validateConfig ensures all required configuration fields are present and valid.
func validateConfig(cfg *GatewayConfig) error {
	if cfg.URL == "" {
		return errors.New("stream URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("stream URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream URL scheme must be ws or wss, got %q", u.Scheme)
	}

	if cfg.PingPeriod < 0 {
		return fmt.Errorf("ping period must not be negative, got %s", cfg.PingPeriod)
	}

	// All validations passed
	return nil
}
