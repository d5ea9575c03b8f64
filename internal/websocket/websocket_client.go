// Package websocket provides a resilient WebSocket client for long-lived telemetry streams.
//
// The client owns the connection lifecycle as an explicit state machine:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> ReconnectPending -> Connecting   (unexpected close, fixed delay)
//	any -> Closing -> Disconnected                (explicit Disconnect)
//
// Reconnection is driven only by close notifications. At most one reconnect
// timer is pending at any time, a successful open cancels it, and nothing is
// scheduled once Disconnect has been called. Timers and ping tickers come from
// an injectable clock so tests can drive them deterministically.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultReconnectDelay is the flat interval between a lost connection and the next attempt.
	DefaultReconnectDelay = 5 * time.Second

	// defaultPingPeriod defines the default interval for sending WebSocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for WebSocket control writes.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of incoming WebSocket messages.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout defines the maximum time allowed for WebSocket handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// shutdownTimeout bounds how long Disconnect waits for connection goroutines.
	shutdownTimeout = 5 * time.Second
)

// Common errors returned by the WebSocket client
var (
	ErrMissingEndpoint = errors.New("endpoint URL is required")
	ErrMissingHandler  = errors.New("message handler is required")
)

// State is a position in the client's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config defines settings for the WebSocket client.
type Config struct {
	// Endpoint is the WebSocket URL to connect to.
	// Required: This field must be provided and non-empty.
	Endpoint string

	// Handler is called for each incoming message, in delivery order, from a
	// single goroutine per connection. A returned error is logged and the
	// connection stays up.
	// Required: This field must be provided and non-nil.
	Handler func([]byte) error

	// ReconnectDelay is the fixed wait before reconnecting. It is not
	// validated; zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// PingPeriod is the interval between WebSocket ping messages.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for control writes.
	SendTimeout time.Duration

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// Clock schedules reconnect timers and ping tickers. Defaults to the wall clock.
	Clock clock.Clock

	// Dialer overrides the default gorilla dialer.
	Dialer Dialer

	// Logger overrides the global logger.
	Logger *zerolog.Logger
}

// Client wraps a websocket.Conn with lifecycle, reconnect and message handling logic.
type Client struct {
	cfg     *Config
	clock   clock.Clock
	dialer  Dialer
	backoff backoff.BackOff
	logger  zerolog.Logger

	// mu guards everything below it.
	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	closing        bool
	reconnectTimer *clock.Timer

	// reconnects counts reconnect timer firings.
	reconnects atomic.Int64

	// ctx is cancelled by Disconnect and aborts in-flight dials.
	ctx    context.Context
	cancel context.CancelFunc

	// once ensures Disconnect() is only executed once.
	once sync.Once

	// wg tracks per-connection read and ping goroutines.
	wg sync.WaitGroup
}

// NewWebsocketClient returns a configured client in the Disconnected state.
//
// Cancelling ctx has the same effect as calling Disconnect. No connection is
// made until Connect is called.
func NewWebsocketClient(ctx context.Context, cfg Config) (*Client, error) {
	// Validate required configuration fields
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.Handler == nil {
		return nil, ErrMissingHandler
	}

	// Apply defaults for optional fields
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkip},
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}

	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}

	ctx, cancel := context.WithCancel(ctx)

	client := &Client{
		cfg:     &cfg,
		clock:   cfg.Clock,
		dialer:  cfg.Dialer,
		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
		logger:  l.With().Str("endpoint", cfg.Endpoint).Logger(),
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
	}

	go client.shutdownListener()

	return client, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts returns how many times the reconnect timer has fired.
func (c *Client) ReconnectAttempts() int64 {
	return c.reconnects.Load()
}

// Connect opens the connection and starts reading. Failures are logged and
// handled as a close, so a failed dial schedules a reconnect.
func (c *Client) Connect() {
	c.connect()
}

func (c *Client) connect() {
	logger := c.logger.With().Str("component", "connect").Logger()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		logger.Debug().Msg("client is closing, skipping connect")
		return
	}
	if c.state == StateConnecting || c.state == StateConnected {
		state := c.state
		c.mu.Unlock()
		logger.Warn().Stringer("state", state).Msg("connect called while already active")
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	logger.Info().Msg("connecting to websocket")

	conn, err := c.dial(c.ctx)
	if err != nil {
		c.onError(err)
		c.onClose(nil)
		return
	}

	c.onOpen(conn)
}

// onOpen installs a freshly dialed connection and starts its goroutines.
func (c *Client) onOpen(conn *websocket.Conn) {
	logger := c.logger.With().Str("component", "open").Logger()

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		// Update read deadline when pong is received
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		logger.Debug().Msg("disconnect raced with dial, dropping connection")
		_ = conn.Close()
		return
	}
	c.stopReconnectTimerLocked()
	c.conn = conn
	c.state = StateConnected
	c.backoff.Reset()

	done := make(chan struct{})
	c.wg.Add(2)
	c.mu.Unlock()

	logger.Info().Msg("websocket connected")

	go func() {
		defer c.wg.Done()
		c.readLoop(conn, done)
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop(conn, done)
	}()
}

// onError logs a transport error. It never schedules a reconnect on its own.
func (c *Client) onError(err error) {
	c.logger.Error().Err(err).Str("component", "error").Msg("websocket error")
}

// onClose reacts to the end of a connection (or a failed dial when conn is
// nil). Unless the client is closing it schedules exactly one reconnect.
func (c *Client) onClose(conn *websocket.Conn) {
	logger := c.logger.With().Str("component", "close").Logger()

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != nil && c.conn != conn {
		logger.Debug().Msg("ignoring close of stale connection")
		return
	}
	c.conn = nil

	if c.closing {
		c.state = StateDisconnected
		return
	}

	if c.reconnectTimer != nil {
		// A manual Connect may have failed while the timer was pending.
		c.state = StateReconnectPending
		logger.Debug().Msg("reconnect already pending")
		return
	}

	delay := c.backoff.NextBackOff()
	c.state = StateReconnectPending
	c.reconnectTimer = c.clock.AfterFunc(delay, c.reconnect)

	logger.Warn().Dur("delay", delay).Msg("websocket disconnected, reconnect scheduled")
}

// reconnect runs when the reconnect timer fires.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	attempt := c.reconnects.Add(1)
	c.logger.Info().Int64("attempt", attempt).Msg("attempting reconnect")
	c.connect()
}

// stopReconnectTimerLocked cancels a pending reconnect. Caller holds c.mu.
func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// readLoop reads messages until the connection fails and hands each one to
// the configured Handler in order.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	logger := c.logger.With().Str("component", "readLoop").Logger()

	logger.Debug().Msg("starting read loop")
	defer func() {
		close(done)
		logger.Debug().Msg("read loop exiting")
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()

			// Categorize and log different error types
			switch {
			case closing:
				logger.Debug().Err(err).Msg("read interrupted by disconnect")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Info().Err(err).Msg("websocket closed by peer")
			case websocket.IsUnexpectedCloseError(err):
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			default:
				c.onError(err)
			}

			c.onClose(conn)
			return
		}

		logger.Debug().
			Int("messageType", messageType).
			Int("bytes", len(data)).
			Msg("received message")

		c.dispatch(data)
	}
}

// dispatch calls the Handler, recovering from panics so one bad message
// cannot take the connection down.
func (c *Client) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Any("recover", r).Msg("panic in message handler")
		}
	}()

	if err := c.cfg.Handler(data); err != nil {
		c.logger.Debug().Err(err).Msg("message handler rejected payload")
	}
}

// pingLoop sends periodic pings until the connection's read loop exits.
func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := c.clock.Ticker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := c.logger.With().Str("component", "pingLoop").Logger()
	logger.Debug().Dur("period", c.cfg.PingPeriod).Msg("starting ping loop")
	defer logger.Debug().Msg("ping loop exiting")

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			} else {
				logger.Debug().Msg("ping sent")
			}
		case <-done:
			return
		}
	}
}

// shutdownListener turns context cancellation into a Disconnect.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Disconnect()
}

// Disconnect closes the connection for good. Pending reconnects are cancelled
// and later close notifications schedule nothing. Safe to call many times.
func (c *Client) Disconnect() {
	c.once.Do(func() {
		logger := c.logger.With().Str("component", "disconnect").Logger()
		logger.Info().Msg("initiating disconnect")

		c.mu.Lock()
		c.closing = true
		c.state = StateClosing
		c.stopReconnectTimerLocked()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		// Abort any in-flight dial
		c.cancel()

		if conn != nil {
			// Send close frame with normal closure code
			if err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			); err != nil {
				logger.Debug().Err(err).Msg("failed to send close frame")
			}

			if err := conn.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing websocket connection")
			}
		}

		// Wait for connection goroutines to complete
		finished := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(shutdownTimeout):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		logger.Info().Msg("websocket disconnected")
	})
}

// dial establishes a WebSocket connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	logger := c.logger.With().
		Str("component", "dial").
		Bool("tlsInsecureSkip", c.cfg.TLSInsecureSkip).
		Logger()

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		// Log detailed error information
		if resp != nil {
			logger.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("status", resp.Status).
				Msg("connection failed")
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
	}

	return conn, nil
}
