// Package simulator serves an Open-Meteo style weather stream over WebSocket.
//
// On every tick the simulator picks a random city, fetches its current weather
// from the forecast API and broadcasts it to all connected clients as
//
//	{"city":"Berlin","timestamp":"2025-06-24T02:00","temperature":16.4,"windspeed":11.2,"winddirection":250}
//
// Fetch failures are logged and the tick is skipped.
package simulator

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultInterval is the time between emitted events.
	DefaultInterval = 5 * time.Second

	fetchTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second

	// streamTimestampLayout matches the Open-Meteo current_weather time field.
	streamTimestampLayout = "2006-01-02T15:04"
)

var ErrMissingFetcher = errors.New("fetcher is required")

// City is a named location.
type City struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// DefaultCities are the locations streamed when none are configured.
var DefaultCities = []City{
	{Name: "Berlin", Latitude: 52.52, Longitude: 13.41},
	{Name: "NewYork", Latitude: 40.71, Longitude: -74.01},
	{Name: "Tokyo", Latitude: 35.68, Longitude: 139.69},
	{Name: "SaoPaulo", Latitude: -23.55, Longitude: -46.63},
	{Name: "CapeTown", Latitude: -33.92, Longitude: 18.42},
}

// Config defines settings for the simulator.
type Config struct {
	Fetcher    Fetcher // required
	Cities     []City
	Interval   time.Duration
	BufferSize int

	// Clock stamps events whose reading has no time. Defaults to the wall clock.
	Clock clock.Clock
	// Rand picks the city for each tick.
	Rand   *rand.Rand
	Logger *zerolog.Logger
}

// Simulator is an http.Handler that upgrades clients to the weather stream.
type Simulator struct {
	cfg       Config
	hub       *Hub
	upgrader  websocket.Upgrader
	scheduler *gocron.Scheduler
	logger    zerolog.Logger

	randMu sync.Mutex

	cancel context.CancelFunc
}

// New validates cfg and returns a stopped simulator.
func New(cfg Config) (*Simulator, error) {
	if cfg.Fetcher == nil {
		return nil, ErrMissingFetcher
	}
	if len(cfg.Cities) == 0 {
		cfg.Cities = DefaultCities
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}

	return &Simulator{
		cfg: cfg,
		hub: NewHub(cfg.BufferSize, &l),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    l.With().Str("component", "simulator").Logger(),
	}, nil
}

// Start runs the hub and schedules emission every Interval until ctx is
// cancelled or Stop is called.
func (s *Simulator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := s.hub.Start(ctx); err != nil {
		cancel()
		return err
	}

	_, err := s.scheduler.Every(s.cfg.Interval).WaitForSchedule().SingletonMode().Do(func() {
		_ = s.Emit(ctx)
	})
	if err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.scheduler.StartAsync()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("cities", len(s.cfg.Cities)).
		Msg("simulator started")
	return nil
}

// Stop cancels the schedule and disconnects every client.
func (s *Simulator) Stop() {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("simulator stopped")
}

// Clients reports the number of connected clients.
func (s *Simulator) Clients() int {
	return s.hub.Subscribers()
}

// Emit fetches one reading for a random city and broadcasts it.
func (s *Simulator) Emit(ctx context.Context) error {
	city := s.pickCity()

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	reading, err := s.cfg.Fetcher.Fetch(fetchCtx, city)
	if err != nil {
		s.logger.Error().Err(err).Str("city", city.Name).Msg("error fetching weather data")
		return err
	}

	timestamp := reading.Time
	if timestamp == "" {
		timestamp = s.cfg.Clock.Now().UTC().Format(streamTimestampLayout)
	}

	data, err := json.Marshal(model.ClimateEvent{
		City:          city.Name,
		Timestamp:     timestamp,
		Temperature:   reading.Temperature,
		WindSpeed:     reading.WindSpeed,
		WindDirection: reading.WindDirection,
	})
	if err != nil {
		return err
	}

	if err := s.hub.Broadcast(data); err != nil {
		return err
	}

	s.logger.Debug().
		Str("city", city.Name).
		Int("clients", s.hub.Subscribers()).
		Msg("weather event broadcast")
	return nil
}

func (s *Simulator) pickCity() City {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.cfg.Cities[s.cfg.Rand.Intn(len(s.cfg.Cities))]
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, err := s.hub.Subscribe()
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejecting client")
		_ = conn.Close()
		return
	}

	logger := s.logger.With().Stringer("client", sub.ID()).Logger()
	logger.Info().Str("remote", r.RemoteAddr).Msg("client connected")

	go s.writePump(conn, sub, logger)
	s.readPump(conn)

	s.hub.Unsubscribe(sub)
	logger.Info().Msg("client disconnected")
}

// readPump discards client frames and returns when the connection fails.
func (s *Simulator) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards queued events until the subscriber channel closes.
func (s *Simulator) writePump(conn *websocket.Conn, sub *Subscriber, logger zerolog.Logger) {
	defer func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}()

	for msg := range sub.C() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Warn().Err(err).Msg("write failed")
			return
		}
	}
}
