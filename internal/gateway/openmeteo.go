// Package gateway connects upstream weather telemetry streams to the aggregation engine.
//
// The Open-Meteo gateway owns a websocket.Client pointed at the configured
// stream, checks every inbound payload against the ClimateEvent shape and
// forwards the events that pass to its sink.
//
// Payload handling:
//   - Not JSON: logged as a parse error and discarded
//   - JSON with missing or mistyped fields, or a malformed timestamp: logged
//     with per-field diagnostics and the payload, then discarded
//   - Valid: forwarded to the sink, which applies the domain rules
//
// None of these outcomes affects the connection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/utils"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// maxLoggedPayload caps how much of an unparseable payload is logged.
const maxLoggedPayload = 512

// EventSink receives validated climate events.
type EventSink interface {
	ProcessEvent(event model.ClimateEvent)
}

// wireEvent is the typed form of an inbound payload once the field types have
// been checked.
//
// Example message:
//
//	{
//		"city": "Berlin",
//		"timestamp": "2025-06-24T02:00",
//		"temperature": 16.4,
//		"windspeed": 11.2,
//		"winddirection": 250
//	}
type wireEvent struct {
	City          string  `json:"city"`
	Timestamp     string  `json:"timestamp" validate:"stream_timestamp"`
	Temperature   float64 `json:"temperature"`
	WindSpeed     float64 `json:"windspeed"`
	WindDirection float64 `json:"winddirection"`
}

// OpenMeteoGateway streams Open-Meteo style weather events into an EventSink.
type OpenMeteoGateway struct {
	config   GatewayConfig
	sink     EventSink
	validate *validator.Validate
	client   *websocket.Client
	logger   zerolog.Logger
}

// NewOpenMeteoGateway validates the configuration and prepares the stream
// client. Nothing is dialed until Connect.
func NewOpenMeteoGateway(ctx context.Context, cfg *GatewayConfig, sink EventSink) (*OpenMeteoGateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: event sink is required", ErrInvalidConfig)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}

	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	g := &OpenMeteoGateway{
		config:   *cfg,
		sink:     sink,
		validate: v,
		logger:   l.With().Str("component", "openmeteo").Logger(),
	}

	client, err := websocket.NewWebsocketClient(ctx, websocket.Config{
		Endpoint:       cfg.URL,
		Handler:        g.handleMessage,
		ReconnectDelay: cfg.ReconnectDelay,
		PingPeriod:     cfg.PingPeriod,
		Clock:          cfg.Clock,
		Dialer:         cfg.Dialer,
		Logger:         &l,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream client: %w", err)
	}
	g.client = client

	return g, nil
}

// newValidator returns a validator with the stream timestamp rule registered.
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("stream_timestamp", func(fl validator.FieldLevel) bool {
		return utils.IsStreamTimestamp(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("register stream_timestamp rule: %w", err)
	}
	return v, nil
}

// Connect starts streaming.
func (g *OpenMeteoGateway) Connect() {
	g.logger.Info().Str("url", g.config.URL).Msg("connecting to weather stream")
	g.client.Connect()
}

// Disconnect stops streaming and suppresses reconnection.
func (g *OpenMeteoGateway) Disconnect() {
	g.client.Disconnect()
	g.logger.Info().Msg("weather stream disconnected")
}

// State reports the underlying connection state.
func (g *OpenMeteoGateway) State() websocket.State {
	return g.client.State()
}

// handleMessage decodes one inbound payload and forwards it when valid.
func (g *OpenMeteoGateway) handleMessage(raw []byte) error {
	event, err := g.decode(raw)
	if err != nil {
		var schemaErr *SchemaError
		var parseErr *ParseError
		switch {
		case errors.As(err, &schemaErr):
			g.logger.Warn().
				RawJSON("event", raw).
				Interface("errors", schemaErr.Fields).
				Msg("invalid websocket event")
		case errors.As(err, &parseErr):
			g.logger.Error().
				Err(parseErr.Err).
				Str("payload", parseErr.Payload).
				Msg("failed to parse websocket message")
		default:
			g.logger.Error().Err(err).Msg("failed to decode websocket message")
		}
		return err
	}

	g.sink.ProcessEvent(event)
	return nil
}

// decode turns a raw payload into a ClimateEvent or explains why it cannot.
// The error is a *ParseError or a *SchemaError.
func (g *OpenMeteoGateway) decode(raw []byte) (model.ClimateEvent, error) {
	if !gjson.ValidBytes(raw) {
		return model.ClimateEvent{}, &ParseError{Payload: truncate(raw), Err: ErrMalformedPayload}
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return model.ClimateEvent{}, &SchemaError{
			Payload: string(raw),
			Fields:  map[string]string{"": "expected object, received " + root.Type.String()},
		}
	}

	problems := make(map[string]string)
	w := wireEvent{
		City:          stringField(root, "city", problems),
		Timestamp:     stringField(root, "timestamp", problems),
		Temperature:   numberField(root, "temperature", problems),
		WindSpeed:     numberField(root, "windspeed", problems),
		WindDirection: numberField(root, "winddirection", problems),
	}

	if _, mistyped := problems["timestamp"]; !mistyped {
		if err := g.validate.Struct(&w); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					problems[fe.Field()] = problemFor(fe)
				}
			} else {
				problems[""] = err.Error()
			}
		}
	}

	if len(problems) > 0 {
		return model.ClimateEvent{}, &SchemaError{Payload: string(raw), Fields: problems}
	}

	return model.ClimateEvent{
		City:          w.City,
		Timestamp:     w.Timestamp,
		Temperature:   w.Temperature,
		WindSpeed:     w.WindSpeed,
		WindDirection: w.WindDirection,
	}, nil
}

// stringField reads a required string field, recording a problem otherwise.
func stringField(root gjson.Result, name string, problems map[string]string) string {
	r := root.Get(name)
	switch {
	case !r.Exists():
		problems[name] = "required"
	case r.Type != gjson.String:
		problems[name] = "expected string, received " + r.Type.String()
	default:
		return r.Str
	}
	return ""
}

// numberField reads a required number field, recording a problem otherwise.
func numberField(root gjson.Result, name string, problems map[string]string) float64 {
	r := root.Get(name)
	switch {
	case !r.Exists():
		problems[name] = "required"
	case r.Type != gjson.Number:
		problems[name] = "expected number, received " + r.Type.String()
	default:
		return r.Num
	}
	return 0
}

// problemFor renders a validator failure as a diagnostic message.
func problemFor(fe validator.FieldError) string {
	if fe.Tag() == "stream_timestamp" {
		return "invalid ISO timestamp format"
	}
	return "failed " + fe.Tag() + " rule"
}

func truncate(raw []byte) string {
	if len(raw) > maxLoggedPayload {
		return string(raw[:maxLoggedPayload]) + "..."
	}
	return string(raw)
}
