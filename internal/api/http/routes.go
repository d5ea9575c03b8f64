// Package httpapi exposes the candle series over HTTP.
package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "climate-metrics"

var validate = validator.New()

// CandleQuerier answers candle queries.
type CandleQuerier interface {
	Candlesticks(city string) []model.Candle
	Cities() []string
}

// Config controls the HTTP app.
type Config struct {
	// APIToken enables bearer authentication on /api routes when non-empty.
	APIToken string

	// CORSOrigin is the allowed origin list, "*" when empty.
	CORSOrigin string

	// RateLimitMax is the number of requests allowed per client per minute.
	RateLimitMax int

	// StreamState reports the ingestion connection state on /health.
	StreamState func() string

	Logger *zerolog.Logger
}

// NewApp builds the Fiber app with middleware and routes registered.
func NewApp(cfg Config, querier CandleQuerier) *fiber.App {
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	logger := l.With().Str("component", "http").Logger()

	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}

	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(requestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigin,
		AllowMethods: fiber.MethodGet,
		AllowHeaders: "Authorization, Content-Type",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "Too Many Requests")
		},
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "ok",
			"service": serviceName,
		}
		if cfg.StreamState != nil {
			body["stream"] = cfg.StreamState()
		}
		return c.JSON(body)
	})

	RegisterRoutes(app, querier, cfg.APIToken, logger)

	return app
}

// RegisterRoutes wires the climate metric handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, querier CandleQuerier, token string, logger zerolog.Logger) {
	api := app.Group("/api/climate-metrics", bearerAuth(token, logger))

	api.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(querier.Cities())
	})

	api.Get("/:city", func(c *fiber.Ctx) error {
		req := cityParams{City: c.Params("city")}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "city must be a non-empty string")
		}

		return c.JSON(querier.Candlesticks(req.City))
	})
}

// cityParams holds the path parameters of the candle endpoint.
type cityParams struct {
	City string `validate:"required,min=1"`
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		if provided, ok := strings.CutPrefix(header, "Bearer "); ok && provided == token {
			logger.Debug().Str("path", c.Path()).Msg("authentication successful")
			return c.Next()
		}

		logger.Warn().Str("path", c.Path()).Msg("authentication failed")
		return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized")
	}
}

// requestLogger logs one line per request.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetRespHeader(fiber.HeaderXRequestID)).
			Msg("request handled")
		return err
	}
}

// errorHandler renders every error as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return c.Status(code).JSON(fiber.Map{"error": message})
}
