package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/siftlab/sieve/internal/storage"
)

// Broker fans Postgres NOTIFY payloads out to SSE subscribers. A single
// connection listens on the decision and phase channels; every subscriber
// gets its own buffered channel so one slow client cannot stall the rest.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	closed      bool
}

// NewBroker creates a broker backed by the database's notification connection.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Run listens for notifications until the context is cancelled. It should
// be started once, in its own goroutine, after the server comes up.
func (b *Broker) Run(ctx context.Context) error {
	if !b.db.HasNotifyConn() {
		b.logger.Info("no notify connection configured, SSE broker disabled")
		return nil
	}
	for _, channel := range []string{storage.ChannelDecisions, storage.ChannelPhases} {
		if err := b.db.Listen(ctx, channel); err != nil {
			return fmt.Errorf("broker: listen %s: %w", channel, err)
		}
	}

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.closeAll()
				return nil
			}
			b.logger.Error("broker: wait for notification", "error", err)
			// The notify connection does not reconnect; bail and let the
			// process supervisor restart us.
			b.closeAll()
			return fmt.Errorf("broker: wait for notification: %w", err)
		}
		b.broadcast(formatSSE(eventNameFor(channel), payload))
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed when the broker shuts down.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// broadcast delivers the event to every subscriber without blocking.
// Subscribers whose buffers are full miss the event; SSE consumers are
// expected to refetch state on reconnect anyway.
func (b *Broker) broadcast(event []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan []byte]struct{})
}

func eventNameFor(channel string) string {
	switch channel {
	case storage.ChannelDecisions:
		return "decision"
	case storage.ChannelPhases:
		return "phase"
	default:
		return "message"
	}
}

// formatSSE renders a server-sent event frame.
func formatSSE(event, data string) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %d\n\n", event, data, time.Now().UnixNano()))
}
