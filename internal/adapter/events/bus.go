// internal/adapter/events/bus.go

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
)

// BusConfig contains the NATS subjects carrying peer events
type BusConfig struct {
	PositionSubject  string
	InterestsSubject string
}

// DefaultBusConfig returns the default subjects
func DefaultBusConfig() BusConfig {
	return BusConfig{
		PositionSubject:  "tribe.peer.position",
		InterestsSubject: "tribe.peer.interests",
	}
}

// Bus delivers peer push events from NATS and announces accepted positions
type Bus struct {
	nc     *nats.Conn
	config BusConfig
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
}

// NewBus creates an event bus on nc. It installs nc's reconnect handler so
// every live subscription receives a resync event after a reconnect.
func NewBus(nc *nats.Conn, config BusConfig, logger *slog.Logger) *Bus {
	b := &Bus{
		nc:        nc,
		config:    config,
		logger:    logger.With("component", "event_bus"),
		listeners: make(map[uint64]func()),
	}

	if nc != nil {
		nc.SetReconnectHandler(func(*nats.Conn) {
			b.logger.Info("NATS reconnected, requesting resync")
			b.Resync()
		})
	}

	return b
}

// Subscribe forwards both event streams into out until the subscription is
// torn down or ctx is done
func (b *Bus) Subscribe(ctx context.Context, out chan<- proximity.PeerEvent) (proximity.Subscription, error) {
	sub := &subscription{bus: b, done: make(chan struct{})}

	forward := func(ev proximity.PeerEvent) {
		select {
		case out <- ev:
		case <-sub.done:
		case <-ctx.Done():
		}
	}

	positionSub, err := b.nc.Subscribe(b.config.PositionSubject, func(msg *nats.Msg) {
		forward(DecodePositionEvent(msg.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to positions: %w", err)
	}
	sub.natsSubscriptions = append(sub.natsSubscriptions, positionSub)

	interestsSub, err := b.nc.Subscribe(b.config.InterestsSubject, func(msg *nats.Msg) {
		forward(DecodeInterestsEvent(msg.Data))
	})
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to interests: %w", err)
	}
	sub.natsSubscriptions = append(sub.natsSubscriptions, interestsSub)

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.listeners[sub.id] = func() {
		go forward(proximity.PeerEvent{Kind: proximity.EventResync})
	}
	b.mu.Unlock()

	return sub, nil
}

// Resync sends a resync event to every live subscription
func (b *Bus) Resync() {
	b.mu.Lock()
	listeners := make([]func(), 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// AnnouncePosition publishes the user's accepted position to other sessions
func (b *Bus) AnnouncePosition(_ context.Context, userID string, sample geo.PositionSample) error {
	payload, err := EncodePosition(userID, sample)
	if err != nil {
		return fmt.Errorf("error marshaling position: %w", err)
	}

	if err := b.nc.Publish(b.config.PositionSubject, payload); err != nil {
		return fmt.Errorf("failed to publish position: %w", err)
	}
	return nil
}

// Listeners returns the number of live subscriptions
func (b *Bus) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners)
}

type subscription struct {
	bus               *Bus
	id                uint64
	done              chan struct{}
	once              sync.Once
	natsSubscriptions []*nats.Subscription
}

// Unsubscribe removes both NATS subscriptions and stops forwarding
func (s *subscription) Unsubscribe() error {
	var errs []error

	s.once.Do(func() {
		close(s.done)

		s.bus.mu.Lock()
		delete(s.bus.listeners, s.id)
		s.bus.mu.Unlock()

		for _, sub := range s.natsSubscriptions {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}
