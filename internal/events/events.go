// Package events carries notifications about committed state changes from the
// services that make them to the refresh sessions that display them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names the committed change.
type Kind string

const (
	KindBookingCreated   Kind = "booking_created"
	KindBookingApproved  Kind = "booking_approved"
	KindBookingRejected  Kind = "booking_rejected"
	KindBookingCancelled Kind = "booking_cancelled"
	KindRoomCreated      Kind = "room_created"
	KindRoomUpdated      Kind = "room_updated"
	KindRoomDeleted      Kind = "room_deleted"
)

// Change describes one committed transition. BookingID is zero for room changes.
type Change struct {
	Kind       Kind      `json:"kind"`
	RoomID     int64     `json:"room_id"`
	BookingID  int64     `json:"booking_id,omitempty"`
	ActorID    int64     `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher accepts changes after they commit.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Subscriber hands out subscriptions to the change stream.
type Subscriber interface {
	Subscribe(buffer int) *Subscription
}

// Subscription receives changes on C until Close is called.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	bus    *LocalBus
	once   sync.Once
	closed bool
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// LocalBus fans changes out to in-process subscribers. Delivery never blocks
// the publisher: a subscriber whose buffer is full misses the change, which
// is acceptable because every change only requests a re-read.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

// NewLocalBus constructs an empty bus.
func NewLocalBus(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{subs: make(map[*Subscription]struct{}), logger: logger}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *LocalBus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers change to every current subscriber.
func (b *LocalBus) Publish(ctx context.Context, change Change) error {
	b.deliver(ctx, change)
	return nil
}

func (b *LocalBus) deliver(ctx context.Context, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for sub := range b.subs {
		select {
		case sub.ch <- change:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.DebugContext(ctx, "change not delivered to slow subscribers",
			"kind", change.Kind,
			"dropped", dropped,
		)
	}
}

// Subscribers reports the number of attached subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *LocalBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}
