// Package refresh keeps read-only dashboard views current. A Supervisor owns
// one periodic task per open session; each task re-runs its query on a fixed
// interval, or sooner when a refresh is requested, and hands the result to the
// session's consumer over a single-slot channel where the newest snapshot wins.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/hall-booking/internal/events"
)

// DefaultInterval is the poll period used when Config.Interval is unset.
const DefaultInterval = 30 * time.Second

// ErrClosed is returned by Open after Shutdown has been called.
var ErrClosed = errors.New("refresh: supervisor closed")

// Clock is the time source driving the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

// Query produces one view of the current state. It must not mutate storage.
type Query[T any] func(ctx context.Context) (T, error)

// Snapshot is one query result. Seq increases by one per completed query.
type Snapshot[T any] struct {
	Value T
	Err   error
	Seq   uint64
	At    time.Time
}

// Config tunes a Supervisor.
type Config struct {
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
	// NewID names sessions. Defaults to random UUIDs.
	NewID func() string
}

// Supervisor tracks the open sessions of one view type.
type Supervisor[T any] struct {
	interval time.Duration
	clock    Clock
	logger   *slog.Logger
	newID    func() string

	mu       sync.Mutex
	sessions map[string]*Session[T]
	closed   bool
	wg       sync.WaitGroup
}

// NewSupervisor constructs a Supervisor, filling unset Config fields with defaults.
func NewSupervisor[T any](cfg Config) *Supervisor[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Supervisor[T]{
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "refresh"),
		newID:    cfg.NewID,
		sessions: make(map[string]*Session[T]),
	}
}

// Open starts a session running query. The first query runs immediately. The
// session ends when Close is called, when ctx is cancelled, or on Shutdown.
func (s *Supervisor[T]) Open(ctx context.Context, query Query[T]) (*Session[T], error) {
	if s == nil {
		return nil, fmt.Errorf("refresh supervisor is nil")
	}
	if query == nil {
		return nil, fmt.Errorf("refresh query is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session[T]{
		id:      s.newID(),
		updates: make(chan Snapshot[T], 1),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	s.sessions[session.id] = session
	s.wg.Add(1)

	logger := s.logger.With("session_id", session.id)
	go func() {
		defer s.wg.Done()
		defer s.remove(session.id)
		session.run(sessionCtx, query, s.interval, s.clock, logger)
	}()

	logger.Debug("refresh session opened")
	return session, nil
}

// RefreshAll asks every open session to re-run its query now.
func (s *Supervisor[T]) RefreshAll() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		session.Refresh()
	}
}

// Sessions reports how many sessions are open.
func (s *Supervisor[T]) Sessions() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Watch calls RefreshAll for every change received from subscriber until ctx
// is cancelled.
func (s *Supervisor[T]) Watch(ctx context.Context, subscriber events.Subscriber) {
	if s == nil || subscriber == nil {
		return
	}
	sub := subscriber.Subscribe(16)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			s.logger.Debug("change observed", "kind", change.Kind, "booking_id", change.BookingID, "room_id", change.RoomID)
			s.RefreshAll()
		}
	}
}

// Shutdown closes every session and refuses new ones. It waits for the
// session tasks to exit or for ctx to end.
func (s *Supervisor[T]) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.closed = true
	for _, session := range s.sessions {
		session.Close()
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor[T]) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Session is one open view. Its task is the only writer to Updates.
type Session[T any] struct {
	id      string
	updates chan Snapshot[T]
	trigger chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// ID returns the session identifier.
func (s *Session[T]) ID() string {
	return s.id
}

// Updates delivers snapshots. An unread snapshot is replaced by a newer one.
// The channel is closed when the session ends.
func (s *Session[T]) Updates() <-chan Snapshot[T] {
	return s.updates
}

// Refresh requests an immediate query. Requests made while one is already
// queued collapse into it.
func (s *Session[T]) Refresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Close ends the session. It is safe to call more than once.
func (s *Session[T]) Close() {
	s.cancel()
}

// Done is closed once the session task has exited.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Session[T]) run(ctx context.Context, query Query[T], interval time.Duration, clock Clock, logger *slog.Logger) {
	defer close(s.done)
	defer close(s.updates)

	var seq uint64
	for {
		value, err := query(ctx)
		if ctx.Err() != nil {
			logger.Debug("refresh session closed", "ticks", seq)
			return
		}
		seq++
		if err != nil {
			logger.Warn("refresh query failed", "error", err, "seq", seq)
		}
		s.deliver(Snapshot[T]{Value: value, Err: err, Seq: seq, At: clock.Now()})

		select {
		case <-ctx.Done():
			logger.Debug("refresh session closed", "ticks", seq)
			return
		case <-clock.After(interval):
		case <-s.trigger:
		}
	}
}

func (s *Session[T]) deliver(snapshot Snapshot[T]) {
	select {
	case s.updates <- snapshot:
		return
	default:
	}
	// Replace the stale snapshot the consumer has not read yet.
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}
