package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"signal-notifier-go/internal/config"
	"signal-notifier-go/internal/signal"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// subscriptionBuffer is the per-subscription channel depth. A full buffer
// sheds the oldest snapshot rather than blocking the read loop: old entries
// are superseded by later updates, while the newest may be a terminal
// completion that nothing would re-deliver.
const subscriptionBuffer = 64

// LiveClient maintains the websocket connection to the signal feed and fans
// incoming snapshots out to subscriptions. Reconnection with backoff is
// handled here; subscribers only ever see a stream of normalized snapshots
// plus the Connected flag.
type LiveClient struct {
	url        string
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	connected atomic.Bool

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

// NewLiveClient creates a live feed client. Run must be called to start it.
func NewLiveClient(cfg *config.Feed, logger *zap.Logger) *LiveClient {
	return &LiveClient{
		url:        cfg.SocketURL,
		logger:     logger.Named("feed"),
		minBackoff: time.Duration(cfg.ReconnectMinMs) * time.Millisecond,
		maxBackoff: time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
		subs:       make(map[uuid.UUID]*Subscription),
	}
}

// Connected reports whether the socket is currently established. Transient
// disconnects flip this to false but are never surfaced as errors.
func (c *LiveClient) Connected() bool {
	return c.connected.Load()
}

// Subscribe registers a new subscription. An empty instrument subscribes to
// every instrument on the feed. The returned handle must be cancelled to
// release it; cancellation is idempotent.
func (c *LiveClient) Subscribe(instrument string) *Subscription {
	sub := &Subscription{
		id:         uuid.New(),
		instrument: instrument,
		ch:         make(chan signal.Snapshot, subscriptionBuffer),
	}
	sub.detach = func() {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.logger.Debug("Subscription registered",
		zap.String("subscription_id", sub.id.String()),
		zap.String("instrument", instrument))
	return sub
}

// Run connects to the feed and keeps reading until ctx is cancelled,
// reconnecting with exponential backoff on any failure.
func (c *LiveClient) Run(ctx context.Context) {
	backoff := c.minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("Feed connection failed, retrying...",
				zap.String("url", c.url),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}

		c.logger.Info("Feed connected", zap.String("url", c.url))
		c.connected.Store(true)
		backoff = c.minBackoff

		c.readLoop(ctx, conn)

		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Feed disconnected, reconnecting...")
	}
}

// readLoop reads messages from one connection until it breaks or ctx is
// cancelled. It is the only goroutine touching the connection, which is what
// preserves per-instrument delivery order.
func (c *LiveClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		var w WireSignal
		if err := conn.ReadJSON(&w); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Feed read failed", zap.Error(err))
			}
			return
		}

		snap, err := w.Normalize()
		if err != nil {
			// One malformed message must not stall the stream.
			c.logger.Warn("Dropping malformed feed message", zap.Error(err))
			continue
		}

		c.dispatch(snap)
	}
}

// dispatch delivers a snapshot to every matching subscription.
func (c *LiveClient) dispatch(snap signal.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if sub.instrument != "" && sub.instrument != snap.Instrument {
			continue
		}
		select {
		case sub.ch <- snap:
			continue
		default:
		}

		// Buffer full: shed the oldest entry, never the incoming one. The
		// newest snapshot may be an instrument's terminal completion update,
		// which no later message would re-deliver.
		select {
		case dropped := <-sub.ch:
			c.logger.Warn("Subscription buffer full, dropping oldest snapshot",
				zap.String("subscription_id", sub.id.String()),
				zap.String("instrument", dropped.Instrument))
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

// Subscription is a handle on a live snapshot stream.
type Subscription struct {
	id         uuid.UUID
	instrument string
	ch         chan signal.Snapshot
	detach     func()
	once       sync.Once
}

// Snapshots returns the stream of normalized snapshots. The channel is
// closed by Cancel.
func (s *Subscription) Snapshots() <-chan signal.Snapshot {
	return s.ch
}

// Cancel detaches the subscription from the feed and closes the stream.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.ch)
	})
}
