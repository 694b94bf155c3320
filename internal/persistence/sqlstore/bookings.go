package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/persistence"
)

const bookingSelect = `
	SELECT b.id, b.user_id, b.room_id, b.date, b.start_time, b.end_time, b.purpose, b.status,
		b.created_at, b.updated_at,
		COALESCE(r.name, '') AS room_name,
		COALESCE(u.name, '') AS user_name
	FROM bookings b
	LEFT JOIN rooms r ON r.id = b.room_id
	LEFT JOIN users u ON u.id = b.user_id`

const (
	newestFirst = ` ORDER BY b.date DESC, b.start_time DESC, b.id DESC`
	oldestFirst = ` ORDER BY b.date ASC, b.start_time ASC, b.id ASC`
)

const eventColumns = `id, booking_id, room_id, room_name, user_id, actor_id, kind, date, start_time, end_time, occurred_at`

// GetBooking retrieves a booking by ID, joined with its room and owner names.
func (s *Store) GetBooking(ctx context.Context, id int64) (persistence.Booking, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	booking, err := getBooking(ctx, s.db, id)
	if err != nil {
		return persistence.Booking{}, s.fail(ctx, "get booking", err)
	}
	return booking, nil
}

// ListBookingsByUser returns the user's bookings, newest first.
func (s *Store) ListBookingsByUser(ctx context.Context, userID int64) ([]persistence.Booking, error) {
	return s.listBookings(ctx, "list bookings by user", bookingSelect+` WHERE b.user_id = ?`+newestFirst, userID)
}

// ListPendingBookings returns bookings awaiting a decision, oldest first.
func (s *Store) ListPendingBookings(ctx context.Context) ([]persistence.Booking, error) {
	return s.listBookings(ctx, "list pending bookings", bookingSelect+` WHERE b.status = ?`+oldestFirst, string(persistence.StatusPending))
}

// ListAllBookings returns every booking, newest first.
func (s *Store) ListAllBookings(ctx context.Context) ([]persistence.Booking, error) {
	return s.listBookings(ctx, "list all bookings", bookingSelect+newestFirst)
}

func (s *Store) listBookings(ctx context.Context, op, query string, args ...any) ([]persistence.Booking, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return bookingModels(rows), nil
}

// ListBookingEvents returns the recorded history of a booking, oldest first.
func (s *Store) ListBookingEvents(ctx context.Context, bookingID int64) ([]persistence.BookingEvent, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []eventRow
	query := s.db.Rebind(`SELECT ` + eventColumns + ` FROM booking_events WHERE booking_id = ? ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, bookingID); err != nil {
		return nil, s.fail(ctx, "list booking events", err)
	}

	events := make([]persistence.BookingEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// WithRoomLock runs fn in a transaction serialized per room. Errors returned
// by fn are passed through unchanged after the rollback.
func (s *Store) WithRoomLock(ctx context.Context, roomID int64, fn func(tx persistence.RoomTx) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var fnErr error
	err := s.inTx(ctx, roomID, func(tx *sqlx.Tx) error {
		fnErr = fn(&roomTx{s: s, tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return s.fail(ctx, "room transaction", err)
	}
	return nil
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getBooking(ctx context.Context, q queryer, id int64) (persistence.Booking, error) {
	var row bookingRow
	if err := sqlx.GetContext(ctx, q, &row, q.Rebind(bookingSelect+` WHERE b.id = ?`), id); err != nil {
		return persistence.Booking{}, err
	}
	return row.toModel(), nil
}

// roomTx implements persistence.RoomTx on an open transaction.
type roomTx struct {
	s  *Store
	tx *sqlx.Tx
}

func (t *roomTx) GetRoom(ctx context.Context, id int64) (persistence.Room, error) {
	var row roomRow
	if err := t.tx.GetContext(ctx, &row, t.tx.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`), id); err != nil {
		return persistence.Room{}, t.s.fail(ctx, "get room", err)
	}
	return row.toModel(), nil
}

func (t *roomTx) UserExists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := t.tx.GetContext(ctx, &count, t.tx.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`), id); err != nil {
		return false, t.s.fail(ctx, "check user", err)
	}
	return count > 0, nil
}

func (t *roomTx) GetBooking(ctx context.Context, id int64) (persistence.Booking, error) {
	booking, err := getBooking(ctx, t.tx, id)
	if err != nil {
		return persistence.Booking{}, t.s.fail(ctx, "get booking", err)
	}
	return booking, nil
}

func (t *roomTx) ListRoomBookingsOn(ctx context.Context, roomID int64, date calendar.Date, statuses ...persistence.Status) ([]persistence.Booking, error) {
	query := bookingSelect + ` WHERE b.room_id = ? AND b.date = ?`
	args := []any{roomID, date}

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}
		var err error
		query, args, err = sqlx.In(query+` AND b.status IN (?)`, roomID, date, values)
		if err != nil {
			return nil, t.s.fail(ctx, "list room bookings", err)
		}
	}

	var rows []bookingRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query+oldestFirst), args...); err != nil {
		return nil, t.s.fail(ctx, "list room bookings", err)
	}
	return bookingModels(rows), nil
}

func (t *roomTx) InsertBooking(ctx context.Context, booking persistence.Booking) (persistence.Booking, error) {
	booking.Status = persistence.StatusPending
	booking.CreatedAt = t.s.now().UTC()
	booking.UpdatedAt = booking.CreatedAt

	query := t.tx.Rebind(`
		INSERT INTO bookings (user_id, room_id, date, start_time, end_time, purpose, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	var id int64
	err := t.tx.GetContext(ctx, &id, query,
		booking.UserID, booking.RoomID, booking.Date, booking.StartTime, booking.EndTime,
		booking.Purpose, string(booking.Status),
		formatTimestamp(booking.CreatedAt), formatTimestamp(booking.UpdatedAt))
	if err != nil {
		return persistence.Booking{}, t.s.fail(ctx, "insert booking", err)
	}
	return t.GetBooking(ctx, id)
}

func (t *roomTx) UpdateBookingStatus(ctx context.Context, id int64, from, to persistence.Status) (bool, error) {
	query := t.tx.Rebind(`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
	return t.exec(ctx, "update booking status", query, string(to), t.s.timestamp(), id, string(from))
}

func (t *roomTx) DeleteBooking(ctx context.Context, id, ownerID int64) (bool, error) {
	query := t.tx.Rebind(`DELETE FROM bookings WHERE id = ? AND user_id = ? AND status IN (?, ?)`)
	return t.exec(ctx, "delete booking", query, id, ownerID,
		string(persistence.StatusPending), string(persistence.StatusApproved))
}

func (t *roomTx) CountActiveBookingsFrom(ctx context.Context, roomID int64, date calendar.Date) (int, error) {
	query := t.tx.Rebind(`
		SELECT COUNT(*) FROM bookings
		WHERE room_id = ? AND date >= ? AND status IN (?, ?)`)

	var count int
	err := t.tx.GetContext(ctx, &count, query, roomID, date,
		string(persistence.StatusPending), string(persistence.StatusApproved))
	if err != nil {
		return 0, t.s.fail(ctx, "count active bookings", err)
	}
	return count, nil
}

func (t *roomTx) DeleteRoom(ctx context.Context, roomID int64) ([]persistence.Booking, bool, error) {
	var rows []bookingRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(bookingSelect+` WHERE b.room_id = ?`+oldestFirst), roomID); err != nil {
		return nil, false, t.s.fail(ctx, "list room bookings", err)
	}

	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM bookings WHERE room_id = ?`), roomID); err != nil {
		return nil, false, t.s.fail(ctx, "delete room bookings", err)
	}

	deleted, err := t.exec(ctx, "delete room", t.tx.Rebind(`DELETE FROM rooms WHERE id = ?`), roomID)
	if err != nil || !deleted {
		return nil, deleted, err
	}
	return bookingModels(rows), true, nil
}

func (t *roomTx) AppendEvent(ctx context.Context, event persistence.BookingEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = t.s.now()
	}

	query := t.tx.Rebind(`
		INSERT INTO booking_events (booking_id, room_id, room_name, user_id, actor_id, kind, date, start_time, end_time, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := t.tx.ExecContext(ctx, query,
		event.BookingID, event.RoomID, event.RoomName, event.UserID, event.ActorID, string(event.Kind),
		event.Date, event.StartTime, event.EndTime, formatTimestamp(event.OccurredAt))
	if err != nil {
		return t.s.fail(ctx, "append booking event", err)
	}
	return nil
}

func (t *roomTx) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, t.s.fail(ctx, op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, t.s.fail(ctx, op, err)
	}
	return affected > 0, nil
}
