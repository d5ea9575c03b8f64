// Package config loads process configuration from the environment.
//
// A .env file in the working directory is read first when present; variables
// already set in the environment win. Values are validated once at startup and
// passed explicitly into constructors.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig wraps every configuration failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Server configures the candle API process.
type Server struct {
	Port           string        `env:"PORT" validate:"required,numeric"`
	OpenMeteoURL   string        `env:"OPEN_METEO_URL" validate:"required,stream_url"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" validate:"gt=0"`
	PingPeriod     time.Duration `env:"PING_PERIOD" validate:"gt=0"`
	CORSOrigin     string        `env:"CORS_ORIGIN"`
	APIToken       string        `env:"API_TOKEN"`
	RateLimitMax   int           `env:"RATE_LIMIT_MAX" validate:"gt=0"`
	LogLevel       zerolog.Level `env:"LOG_LEVEL"`
}

// Simulator configures the weather stream simulator process.
type Simulator struct {
	Port        string        `env:"SIMULATOR_PORT" validate:"required,numeric"`
	Interval    time.Duration `env:"SIMULATOR_INTERVAL" validate:"gt=0"`
	ForecastURL string        `env:"FORECAST_URL" validate:"required,url"`
	LogLevel    zerolog.Level `env:"LOG_LEVEL"`
}

var validate = mustNewValidator()

func mustNewValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic("config: " + err.Error())
	}
	return v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})
	err := v.RegisterValidation("stream_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil || u.Host == "" {
			return false
		}
		return u.Scheme == "ws" || u.Scheme == "wss"
	})
	if err != nil {
		return nil, fmt.Errorf("register stream_url rule: %w", err)
	}
	return v, nil
}

// loadDotEnv reads .env when present. A missing file is not an error.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

// LoadServer reads and validates the API server configuration.
func LoadServer() (*Server, error) {
	loadDotEnv()

	var errs []string
	cfg := &Server{
		Port:           getenvDefault("PORT", "3333"),
		OpenMeteoURL:   os.Getenv("OPEN_METEO_URL"),
		ReconnectDelay: getenvDuration("RECONNECT_DELAY", 5*time.Second, &errs),
		PingPeriod:     getenvDuration("PING_PERIOD", 15*time.Second, &errs),
		CORSOrigin:     getenvDefault("CORS_ORIGIN", "*"),
		APIToken:       os.Getenv("API_TOKEN"),
		RateLimitMax:   getenvInt("RATE_LIMIT_MAX", 100, &errs),
		LogLevel:       getenvLevel("LOG_LEVEL", zerolog.InfoLevel, &errs),
	}

	if err := check(cfg, errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSimulator reads and validates the simulator configuration.
func LoadSimulator() (*Simulator, error) {
	loadDotEnv()

	var errs []string
	cfg := &Simulator{
		Port:        getenvDefault("SIMULATOR_PORT", "8081"),
		Interval:    getenvDuration("SIMULATOR_INTERVAL", 5*time.Second, &errs),
		ForecastURL: getenvDefault("FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
		LogLevel:    getenvLevel("LOG_LEVEL", zerolog.InfoLevel, &errs),
	}

	if err := check(cfg, errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// check merges parse errors with struct validation into one ErrInvalidConfig.
func check(cfg interface{}, errs []string) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q rule", fe.Field(), fe.Tag()))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

// getenvDuration accepts a Go duration ("5s") or a bare number of milliseconds.
func getenvDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func getenvLevel(key string, def zerolog.Level, errs *[]string) zerolog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return lvl
}
