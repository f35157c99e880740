// Package notify fans text notifications out to live websocket subscribers.
//
// The Broadcaster keeps the set of subscribed connections behind a mutex.
// Broadcast snapshots the set under the lock and sends outside it, each send
// bounded by a timeout; a connection whose send fails is dropped from the
// live set. Delivery is best effort and failures never reach the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-script-catalog/internal/observability"
)

// DefaultSendTimeout bounds a single send when none is configured.
const DefaultSendTimeout = 5 * time.Second

// Conn is one subscriber connection.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// Send writes one text message, honoring ctx's deadline.
	Send(ctx context.Context, text string) error
	// Receive blocks until the peer sends a message or the connection fails.
	Receive() (string, error)
	Close() error
}

// Broadcaster is the live subscriber set.
type Broadcaster struct {
	mu    sync.Mutex
	conns map[Conn]struct{}

	sendTimeout time.Duration
	log         *zerolog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithSendTimeout sets the per-send deadline (<= 0 keeps the default).
func WithSendTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithLogger sets the logger (default: the global zerolog logger).
func WithLogger(l *zerolog.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		conns:       make(map[Conn]struct{}),
		sendTimeout: DefaultSendTimeout,
		log:         &log.Logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe adds c to the live set.
func (b *Broadcaster) Subscribe(c Conn) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	n := len(b.conns)
	b.mu.Unlock()

	observability.SetSubscribers(n)
	b.log.Debug().Str("conn", c.ID()).Int("subscribers", n).Msg("subscriber added")
}

// Unsubscribe removes c. Removing an absent connection is a no-op.
func (b *Broadcaster) Unsubscribe(c Conn) {
	b.mu.Lock()
	_, ok := b.conns[c]
	delete(b.conns, c)
	n := len(b.conns)
	b.mu.Unlock()

	if !ok {
		b.log.Debug().Str("conn", c.ID()).Msg("unsubscribe: connection not subscribed")
		return
	}
	observability.SetSubscribers(n)
	b.log.Debug().Str("conn", c.ID()).Int("subscribers", n).Msg("subscriber removed")
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Broadcast sends message to every subscriber present when it starts and
// returns how many sends succeeded. Failed connections are unsubscribed and
// closed.
func (b *Broadcaster) Broadcast(ctx context.Context, message string) int {
	b.mu.Lock()
	snapshot := make([]Conn, 0, len(b.conns))
	for c := range b.conns {
		snapshot = append(snapshot, c)
	}
	b.mu.Unlock()

	delivered := 0
	for _, c := range snapshot {
		// Each send gets its own deadline; the caller's cancellation must not
		// count against healthy subscribers.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.sendTimeout)
		err := c.Send(sctx, message)
		cancel()
		observability.ObserveNotification(err == nil)
		if err != nil {
			b.log.Warn().Err(err).Str("conn", c.ID()).Msg("notification send failed; dropping subscriber")
			b.Unsubscribe(c)
			_ = c.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Serve subscribes c and blocks reading from it until the peer closes or the
// connection fails, then unsubscribes and closes it. Inbound messages are
// ignored.
func (b *Broadcaster) Serve(c Conn) {
	b.Subscribe(c)
	defer func() {
		b.Unsubscribe(c)
		_ = c.Close()
	}()
	for {
		if _, err := c.Receive(); err != nil {
			b.log.Debug().Err(err).Str("conn", c.ID()).Msg("subscriber disconnected")
			return
		}
	}
}

// Shutdown closes every live connection and empties the set. Each closed
// connection's Serve loop returns on its next read.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	snapshot := make([]Conn, 0, len(b.conns))
	for c := range b.conns {
		snapshot = append(snapshot, c)
	}
	b.conns = make(map[Conn]struct{})
	b.mu.Unlock()

	observability.SetSubscribers(0)
	for _, c := range snapshot {
		_ = c.Close()
	}
	if len(snapshot) > 0 {
		b.log.Info().Int("subscribers", len(snapshot)).Msg("notification subscribers closed")
	}
}
