// Package memory implements the storage gateway with in-process maps. It is
// used by tests and by deployments configured with the memory driver.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/persistence"
)

// Storage keeps users, rooms, bookings and booking history in memory.
type Storage struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[int64]persistence.User
	rooms    map[int64]persistence.Room
	bookings map[int64]persistence.Booking
	events   []persistence.BookingEvent
	seq      sequences
}

type sequences struct {
	user, room, booking, event int64
}

var _ persistence.Gateway = (*Storage)(nil)

// New returns an empty Storage. now stamps created and updated times.
func New(now func() time.Time) *Storage {
	if now == nil {
		now = time.Now
	}
	return &Storage{
		now:      now,
		users:    make(map[int64]persistence.User),
		rooms:    make(map[int64]persistence.Room),
		bookings: make(map[int64]persistence.Booking),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Storage) CreateUser(ctx context.Context, user persistence.User) (persistence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findUserByEmailLocked(user.Email); ok {
		return persistence.User{}, persistence.ErrDuplicate
	}

	s.seq.user++
	user.ID = s.seq.user
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = persistence.RoleUser
	}
	user.CreatedAt = s.now().UTC()
	s.users[user.ID] = user
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Storage) GetUser(ctx context.Context, id int64) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.findUserByEmailLocked(email)
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// SetUserRole changes the role of an existing user.
func (s *Storage) SetUserRole(ctx context.Context, id int64, role persistence.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return false, nil
	}
	user.Role = role
	s.users[id] = user
	return true, nil
}

func (s *Storage) findUserByEmailLocked(email string) (persistence.User, bool) {
	lower := strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.users {
		if strings.ToLower(user.Email) == lower {
			return user, true
		}
	}
	return persistence.User{}, false
}

// --- RoomRepository implementation ---

// CreateRoom stores a new meeting room.
func (s *Storage) CreateRoom(ctx context.Context, room persistence.Room) (persistence.Room, error) {
	if room.Capacity <= 0 {
		return persistence.Room{}, persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq.room++
	room.ID = s.seq.room
	room.CreatedAt = s.now().UTC()
	room.UpdatedAt = room.CreatedAt
	s.rooms[room.ID] = room
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *Storage) GetRoom(ctx context.Context, id int64) (persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRoomLocked(id)
}

// UpdateRoom replaces the name and capacity of an existing room.
func (s *Storage) UpdateRoom(ctx context.Context, room persistence.Room) (bool, error) {
	if room.Capacity <= 0 {
		return false, persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[room.ID]
	if !ok {
		return false, nil
	}
	existing.Name = room.Name
	existing.Capacity = room.Capacity
	existing.UpdatedAt = s.now().UTC()
	s.rooms[room.ID] = existing
	return true, nil
}

// ListRooms returns all rooms ordered by name.
func (s *Storage) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]persistence.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, nil
}

func (s *Storage) getRoomLocked(id int64) (persistence.Room, error) {
	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

// --- BookingRepository implementation ---

// GetBooking retrieves a booking by ID, joined with its room and owner names.
func (s *Storage) GetBooking(ctx context.Context, id int64) (persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getBookingLocked(id)
}

// ListBookingsByUser returns the user's bookings, newest first.
func (s *Storage) ListBookingsByUser(ctx context.Context, userID int64) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := s.collectLocked(func(b persistence.Booking) bool { return b.UserID == userID })
	sortBookings(bookings, true)
	return bookings, nil
}

// ListPendingBookings returns bookings awaiting a decision, oldest first.
func (s *Storage) ListPendingBookings(ctx context.Context) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := s.collectLocked(func(b persistence.Booking) bool { return b.Status == persistence.StatusPending })
	sortBookings(bookings, false)
	return bookings, nil
}

// ListAllBookings returns every booking, newest first.
func (s *Storage) ListAllBookings(ctx context.Context) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := s.collectLocked(func(persistence.Booking) bool { return true })
	sortBookings(bookings, true)
	return bookings, nil
}

// ListBookingEvents returns the recorded history of a booking.
func (s *Storage) ListBookingEvents(ctx context.Context, bookingID int64) ([]persistence.BookingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []persistence.BookingEvent
	for _, event := range s.events {
		if event.BookingID == bookingID {
			events = append(events, event)
		}
	}
	return events, nil
}

// WithRoomLock runs fn with exclusive access to the storage. Writes made by
// fn are discarded when it returns an error. fn must only use the supplied
// transaction; calling Storage methods from inside fn deadlocks.
func (s *Storage) WithRoomLock(ctx context.Context, roomID int64, fn func(tx persistence.RoomTx) error) error {
	if err := ctx.Err(); err != nil {
		return persistence.ErrUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	if err := fn(&roomTx{s: s}); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

func (s *Storage) getBookingLocked(id int64) (persistence.Booking, error) {
	booking, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	return s.joinLocked(booking), nil
}

func (s *Storage) collectLocked(keep func(persistence.Booking) bool) []persistence.Booking {
	bookings := make([]persistence.Booking, 0)
	for _, booking := range s.bookings {
		if keep(booking) {
			bookings = append(bookings, s.joinLocked(booking))
		}
	}
	return bookings
}

func (s *Storage) joinLocked(booking persistence.Booking) persistence.Booking {
	if room, ok := s.rooms[booking.RoomID]; ok {
		booking.RoomName = room.Name
	}
	if user, ok := s.users[booking.UserID]; ok {
		booking.UserName = user.Name
	}
	return booking
}

type snapshot struct {
	rooms    map[int64]persistence.Room
	bookings map[int64]persistence.Booking
	events   []persistence.BookingEvent
	seq      sequences
}

func (s *Storage) snapshotLocked() snapshot {
	snap := snapshot{
		rooms:    make(map[int64]persistence.Room, len(s.rooms)),
		bookings: make(map[int64]persistence.Booking, len(s.bookings)),
		events:   append([]persistence.BookingEvent(nil), s.events...),
		seq:      s.seq,
	}
	for id, room := range s.rooms {
		snap.rooms[id] = room
	}
	for id, booking := range s.bookings {
		snap.bookings[id] = booking
	}
	return snap
}

func (s *Storage) restoreLocked(snap snapshot) {
	s.rooms = snap.rooms
	s.bookings = snap.bookings
	s.events = snap.events
	s.seq = snap.seq
}

// sortBookings orders by date and start time, then ID, descending when newestFirst is set.
func sortBookings(bookings []persistence.Booking, newestFirst bool) {
	sort.Slice(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if newestFirst {
			a, b = b, a
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

// roomTx operates on the storage while WithRoomLock holds its mutex.
type roomTx struct {
	s *Storage
}

func (tx *roomTx) GetRoom(ctx context.Context, id int64) (persistence.Room, error) {
	return tx.s.getRoomLocked(id)
}

func (tx *roomTx) UserExists(ctx context.Context, id int64) (bool, error) {
	_, ok := tx.s.users[id]
	return ok, nil
}

func (tx *roomTx) GetBooking(ctx context.Context, id int64) (persistence.Booking, error) {
	return tx.s.getBookingLocked(id)
}

func (tx *roomTx) ListRoomBookingsOn(ctx context.Context, roomID int64, date calendar.Date, statuses ...persistence.Status) ([]persistence.Booking, error) {
	bookings := tx.s.collectLocked(func(b persistence.Booking) bool {
		return b.RoomID == roomID && b.Date == date && hasStatus(statuses, b.Status)
	})
	sortBookings(bookings, false)
	return bookings, nil
}

func (tx *roomTx) InsertBooking(ctx context.Context, booking persistence.Booking) (persistence.Booking, error) {
	if _, ok := tx.s.rooms[booking.RoomID]; !ok {
		return persistence.Booking{}, persistence.ErrForeignKeyViolation
	}
	if _, ok := tx.s.users[booking.UserID]; !ok {
		return persistence.Booking{}, persistence.ErrForeignKeyViolation
	}
	if booking.StartTime >= booking.EndTime {
		return persistence.Booking{}, persistence.ErrConstraintViolation
	}

	tx.s.seq.booking++
	booking.ID = tx.s.seq.booking
	booking.Status = persistence.StatusPending
	booking.CreatedAt = tx.s.now().UTC()
	booking.UpdatedAt = booking.CreatedAt
	booking.RoomName = ""
	booking.UserName = ""
	tx.s.bookings[booking.ID] = booking
	return tx.s.joinLocked(booking), nil
}

func (tx *roomTx) UpdateBookingStatus(ctx context.Context, id int64, from, to persistence.Status) (bool, error) {
	booking, ok := tx.s.bookings[id]
	if !ok || booking.Status != from {
		return false, nil
	}
	booking.Status = to
	booking.UpdatedAt = tx.s.now().UTC()
	tx.s.bookings[id] = booking
	return true, nil
}

func (tx *roomTx) DeleteBooking(ctx context.Context, id, ownerID int64) (bool, error) {
	booking, ok := tx.s.bookings[id]
	if !ok || booking.UserID != ownerID || !booking.Status.Active() {
		return false, nil
	}
	delete(tx.s.bookings, id)
	return true, nil
}

func (tx *roomTx) CountActiveBookingsFrom(ctx context.Context, roomID int64, date calendar.Date) (int, error) {
	count := 0
	for _, booking := range tx.s.bookings {
		if booking.RoomID == roomID && booking.Status.Active() && !booking.Date.Before(date) {
			count++
		}
	}
	return count, nil
}

func (tx *roomTx) DeleteRoom(ctx context.Context, roomID int64) ([]persistence.Booking, bool, error) {
	if _, ok := tx.s.rooms[roomID]; !ok {
		return nil, false, nil
	}

	removed := tx.s.collectLocked(func(b persistence.Booking) bool { return b.RoomID == roomID })
	sortBookings(removed, false)
	for _, booking := range removed {
		delete(tx.s.bookings, booking.ID)
	}
	delete(tx.s.rooms, roomID)
	return removed, true, nil
}

func (tx *roomTx) AppendEvent(ctx context.Context, event persistence.BookingEvent) error {
	tx.s.seq.event++
	event.ID = tx.s.seq.event
	if event.OccurredAt.IsZero() {
		event.OccurredAt = tx.s.now().UTC()
	}
	tx.s.events = append(tx.s.events, event)
	return nil
}

func hasStatus(statuses []persistence.Status, status persistence.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
