package simulator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultSubscriberBuffer is the per-client queue length.
const defaultSubscriberBuffer = 16

var (
	ErrHubNotStarted     = errors.New("hub not started")
	ErrHubAlreadyStarted = errors.New("hub already started")
	ErrHubStopped        = errors.New("hub stopped")
)

// Subscriber is one connected stream client.
type Subscriber struct {
	id uuid.UUID   // unique per connection, used in logs
	ch chan []byte // buffered outbound messages
}

// ID returns the subscriber's connection ID.
func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

// C returns the subscriber's message channel. It is closed on unsubscribe or
// when the hub stops.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

// Hub fans serialized events out to every connected client.
//
// A single goroutine owns the subscribers map; all interaction goes through
// channels. Subscribe and Unsubscribe are unbuffered so that a message
// broadcast after Subscribe returns is always delivered to the new client.
type Hub struct {
	bufferSize       int
	subscribers      map[uuid.UUID]*Subscriber // owned by the run goroutine
	subscriptionCh   chan *Subscriber
	unsubscriptionCh chan *Subscriber
	broadcastCh      chan []byte
	done             chan struct{}
	started          atomic.Bool
	count            atomic.Int64
	logger           zerolog.Logger
}

// NewHub creates a stopped hub. bufferSize <= 0 selects the default.
func NewHub(bufferSize int, logger *zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &Hub{
		bufferSize:       bufferSize,
		subscribers:      make(map[uuid.UUID]*Subscriber),
		subscriptionCh:   make(chan *Subscriber),
		unsubscriptionCh: make(chan *Subscriber),
		broadcastCh:      make(chan []byte),
		done:             make(chan struct{}),
		logger:           l.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() (*Subscriber, error) {
	if !h.started.Load() {
		return nil, ErrHubNotStarted
	}

	sub := &Subscriber{
		id: uuid.New(),
		ch: make(chan []byte, h.bufferSize),
	}

	select {
	case h.subscriptionCh <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// Unsubscribe removes a client and closes its channel. It is a no-op once the
// hub has stopped.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unsubscriptionCh <- sub:
	case <-h.done:
	}
}

// Broadcast queues msg for every current subscriber.
func (h *Hub) Broadcast(msg []byte) error {
	if !h.started.Load() {
		return ErrHubNotStarted
	}

	select {
	case h.broadcastCh <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Subscribers reports how many clients are connected.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Start launches the hub goroutine. It runs until ctx is cancelled, then
// closes every subscriber channel.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrHubAlreadyStarted
	}

	go func() {
		defer func() {
			for id, sub := range h.subscribers {
				close(sub.ch)
				delete(h.subscribers, id)
			}
			h.count.Store(0)
			close(h.done)
		}()

		for {
			select {
			case <-ctx.Done():
				h.logger.Info().Msg("hub stopped")
				return
			case sub := <-h.subscriptionCh:
				h.subscribers[sub.id] = sub
				h.count.Store(int64(len(h.subscribers)))
			case sub := <-h.unsubscriptionCh:
				if _, ok := h.subscribers[sub.id]; ok {
					delete(h.subscribers, sub.id)
					close(sub.ch)
					h.count.Store(int64(len(h.subscribers)))
				}
			case msg := <-h.broadcastCh:
				h.dispatch(msg)
			}
		}
	}()

	return nil
}

// dispatch delivers msg to every subscriber. A full queue loses its oldest
// message so the newest reading always gets through.
func (h *Hub) dispatch(msg []byte) {
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn().Stringer("subscriber", sub.id).Msg("subscriber is too slow, dropping oldest buffered event")
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- msg
		}
	}
}
