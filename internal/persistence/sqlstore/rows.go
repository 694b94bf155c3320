package sqlstore

import (
	"fmt"
	"time"

	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/persistence"
)

// formatTimestamp is the TEXT encoding of instants. Postgres parses the same
// string into TIMESTAMPTZ columns.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestamp scans TEXT (SQLite) and TIMESTAMPTZ (Postgres) columns.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp source %T", src)
	}
}

func (t *timestamp) parse(v string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", v)
}

type userRow struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password"`
	Role         string    `db:"role"`
	CreatedAt    timestamp `db:"created_at"`
}

func (r userRow) toModel() persistence.User {
	return persistence.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         persistence.Role(r.Role),
		CreatedAt:    r.CreatedAt.Time,
	}
}

type roomRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Capacity  int       `db:"capacity"`
	CreatedAt timestamp `db:"created_at"`
	UpdatedAt timestamp `db:"updated_at"`
}

func (r roomRow) toModel() persistence.Room {
	return persistence.Room{
		ID:        r.ID,
		Name:      r.Name,
		Capacity:  r.Capacity,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type bookingRow struct {
	ID        int64              `db:"id"`
	UserID    int64              `db:"user_id"`
	RoomID    int64              `db:"room_id"`
	Date      calendar.Date      `db:"date"`
	StartTime calendar.TimeOfDay `db:"start_time"`
	EndTime   calendar.TimeOfDay `db:"end_time"`
	Purpose   string             `db:"purpose"`
	Status    string             `db:"status"`
	CreatedAt timestamp          `db:"created_at"`
	UpdatedAt timestamp          `db:"updated_at"`
	RoomName  string             `db:"room_name"`
	UserName  string             `db:"user_name"`
}

func (r bookingRow) toModel() persistence.Booking {
	return persistence.Booking{
		ID:        r.ID,
		UserID:    r.UserID,
		RoomID:    r.RoomID,
		Date:      r.Date,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Purpose:   r.Purpose,
		Status:    persistence.Status(r.Status),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
		RoomName:  r.RoomName,
		UserName:  r.UserName,
	}
}

func bookingModels(rows []bookingRow) []persistence.Booking {
	bookings := make([]persistence.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.toModel())
	}
	return bookings
}

type eventRow struct {
	ID         int64              `db:"id"`
	BookingID  int64              `db:"booking_id"`
	RoomID     int64              `db:"room_id"`
	RoomName   string             `db:"room_name"`
	UserID     int64              `db:"user_id"`
	ActorID    int64              `db:"actor_id"`
	Kind       string             `db:"kind"`
	Date       calendar.Date      `db:"date"`
	StartTime  calendar.TimeOfDay `db:"start_time"`
	EndTime    calendar.TimeOfDay `db:"end_time"`
	OccurredAt timestamp          `db:"occurred_at"`
}

func (r eventRow) toModel() persistence.BookingEvent {
	return persistence.BookingEvent{
		ID:         r.ID,
		BookingID:  r.BookingID,
		RoomID:     r.RoomID,
		RoomName:   r.RoomName,
		UserID:     r.UserID,
		ActorID:    r.ActorID,
		Kind:       persistence.EventKind(r.Kind),
		Date:       r.Date,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		OccurredAt: r.OccurredAt.Time,
	}
}
