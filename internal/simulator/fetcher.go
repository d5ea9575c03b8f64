package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// DefaultForecastURL is the public Open-Meteo forecast endpoint.
const DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

var (
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrMissingCurrentWeather = errors.New("response has no current_weather")
)

// statusError is a non-2xx response from the forecast API.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Reading is the current weather at one location.
type Reading struct {
	Time          string
	Temperature   float64
	WindSpeed     float64
	WindDirection float64
}

// Fetcher returns the current weather for a city.
type Fetcher interface {
	Fetch(ctx context.Context, city City) (Reading, error)
}

// FetcherConfig tunes the Open-Meteo client.
type FetcherConfig struct {
	BaseURL string
	Client  *http.Client

	// Retry policy for transient failures (network errors, 429, 5xx).
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// BreakerThreshold consecutive failures open the circuit for BreakerTimeout.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	Logger *zerolog.Logger
}

// OpenMeteoFetcher calls the Open-Meteo forecast API through a circuit
// breaker, retrying transient failures with exponential backoff.
type OpenMeteoFetcher struct {
	cfg     FetcherConfig
	circuit *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewOpenMeteoFetcher applies defaults to cfg and builds the fetcher.
func NewOpenMeteoFetcher(cfg FetcherConfig) *OpenMeteoFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultForecastURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 2 * time.Minute
	}

	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	logger := l.With().Str("component", "fetcher").Logger()

	threshold := cfg.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
		},
	})

	return &OpenMeteoFetcher{
		cfg:     cfg,
		circuit: cb,
		logger:  logger,
	}
}

// Fetch returns the current weather for city.
func (f *OpenMeteoFetcher) Fetch(ctx context.Context, city City) (Reading, error) {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(city.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(city.Longitude, 'f', -1, 64))
	values.Set("current_weather", "true")
	u := f.cfg.BaseURL + "?" + values.Encode()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = f.cfg.InitialInterval
	expo.MaxInterval = f.cfg.MaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, f.cfg.MaxRetries), ctx)

	var reading Reading
	operation := func() error {
		result, err := f.circuit.Execute(func() (interface{}, error) {
			return f.do(ctx, u)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
			}
			var se *statusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrMissingCurrentWeather) {
				return backoff.Permanent(err)
			}
			return err
		}

		reading = result.(Reading)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Debug().Err(err).Str("city", city.Name).Dur("wait", wait).Msg("retrying forecast request")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return Reading{}, fmt.Errorf("fetch %s: %w", city.Name, err)
	}
	return reading, nil
}

// do performs one request and decodes the current_weather block.
func (f *OpenMeteoFetcher) do(ctx context.Context, u string) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Reading{}, err
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reading{}, &statusError{code: resp.StatusCode}
	}

	var payload struct {
		CurrentWeather *struct {
			Time          string  `json:"time"`
			Temperature   float64 `json:"temperature"`
			WindSpeed     float64 `json:"windspeed"`
			WindDirection float64 `json:"winddirection"`
		} `json:"current_weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Reading{}, fmt.Errorf("decode forecast: %w", err)
	}
	if payload.CurrentWeather == nil {
		return Reading{}, ErrMissingCurrentWeather
	}

	return Reading{
		Time:          payload.CurrentWeather.Time,
		Temperature:   payload.CurrentWeather.Temperature,
		WindSpeed:     payload.CurrentWeather.WindSpeed,
		WindDirection: payload.CurrentWeather.WindDirection,
	}, nil
}
