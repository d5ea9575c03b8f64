package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PORT", "OPEN_METEO_URL", "RECONNECT_DELAY", "PING_PERIOD", "CORS_ORIGIN", "API_TOKEN",
	"RATE_LIMIT_MAX", "LOG_LEVEL", "SIMULATOR_PORT", "SIMULATOR_INTERVAL", "FORECAST_URL",
}

// clearEnv blanks every key so host settings cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

// Test_LoadServer_Defaults tests the values used when only the stream URL is set
func Test_LoadServer_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPEN_METEO_URL", "ws://localhost:8081")

	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, &Server{
		Port:           "3333",
		OpenMeteoURL:   "ws://localhost:8081",
		ReconnectDelay: 5 * time.Second,
		PingPeriod:     15 * time.Second,
		CORSOrigin:     "*",
		RateLimitMax:   100,
		LogLevel:       zerolog.InfoLevel,
	}, cfg)
}

// Test_LoadServer tests overrides and validation failures
func Test_LoadServer(t *testing.T) {
	tests := []struct {
		name          string
		env           map[string]string
		expectError   bool
		errorContains string
		check         func(t *testing.T, cfg *Server)
	}{
		{
			name: "All values set",
			env: map[string]string{
				"PORT":            "8080",
				"OPEN_METEO_URL":  "wss://stream.example.com/weather",
				"RECONNECT_DELAY": "10s",
				"PING_PERIOD":     "30s",
				"CORS_ORIGIN":     "https://dashboard.example.com",
				"API_TOKEN":       "stub-token",
				"RATE_LIMIT_MAX":  "20",
				"LOG_LEVEL":       "DEBUG",
			},
			check: func(t *testing.T, cfg *Server) {
				assert.Equal(t, "8080", cfg.Port)
				assert.Equal(t, 10*time.Second, cfg.ReconnectDelay)
				assert.Equal(t, 30*time.Second, cfg.PingPeriod)
				assert.Equal(t, "https://dashboard.example.com", cfg.CORSOrigin)
				assert.Equal(t, "stub-token", cfg.APIToken)
				assert.Equal(t, 20, cfg.RateLimitMax)
				assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
			},
		},
		{
			name: "Millisecond durations",
			env:  map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "RECONNECT_DELAY": "2500"},
			check: func(t *testing.T, cfg *Server) {
				assert.Equal(t, 2500*time.Millisecond, cfg.ReconnectDelay)
			},
		},
		{
			name:          "Missing stream URL",
			env:           map[string]string{},
			expectError:   true,
			errorContains: "OPEN_METEO_URL",
		},
		{
			name:          "HTTP stream URL",
			env:           map[string]string{"OPEN_METEO_URL": "http://localhost:8081"},
			expectError:   true,
			errorContains: "stream_url",
		},
		{
			name:          "Stream URL without host",
			env:           map[string]string{"OPEN_METEO_URL": "ws://"},
			expectError:   true,
			errorContains: "stream_url",
		},
		{
			name:          "Non numeric port",
			env:           map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "PORT": "http"},
			expectError:   true,
			errorContains: "PORT",
		},
		{
			name:          "Bad duration",
			env:           map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "RECONNECT_DELAY": "soon"},
			expectError:   true,
			errorContains: "RECONNECT_DELAY",
		},
		{
			name:          "Zero reconnect delay",
			env:           map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "RECONNECT_DELAY": "0"},
			expectError:   true,
			errorContains: "RECONNECT_DELAY",
		},
		{
			name:          "Bad rate limit",
			env:           map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "RATE_LIMIT_MAX": "lots"},
			expectError:   true,
			errorContains: "RATE_LIMIT_MAX",
		},
		{
			name:          "Bad log level",
			env:           map[string]string{"OPEN_METEO_URL": "ws://localhost:8081", "LOG_LEVEL": "loud"},
			expectError:   true,
			errorContains: "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadServer()

			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

// Test_LoadSimulator tests the simulator configuration
func Test_LoadSimulator(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		clearEnv(t)

		cfg, err := LoadSimulator()
		require.NoError(t, err)
		assert.Equal(t, "8081", cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.Interval)
		assert.Equal(t, "https://api.open-meteo.com/v1/forecast", cfg.ForecastURL)
		assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	})

	t.Run("Overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("SIMULATOR_PORT", "9000")
		t.Setenv("SIMULATOR_INTERVAL", "250ms")

		cfg, err := LoadSimulator()
		require.NoError(t, err)
		assert.Equal(t, "9000", cfg.Port)
		assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	})

	t.Run("Invalid forecast URL", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("FORECAST_URL", "not a url")

		_, err := LoadSimulator()
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "FORECAST_URL")
	})

	t.Run("Stream URL not required", func(t *testing.T) {
		clearEnv(t)

		_, err := LoadSimulator()
		assert.NoError(t, err)
	})
}

func Test_newValidator(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{name: "ws", value: "ws://localhost:8081", valid: true},
		{name: "wss", value: "wss://stream.example.com/weather", valid: true},
		{name: "http scheme", value: "http://localhost:8081", valid: false},
		{name: "no host", value: "ws://", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Var(tt.value, "stream_url")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
