package application

import (
	"context"
	"fmt"
	"time"
)

// DashboardLoader assembles the read-only view a dashboard session displays.
type DashboardLoader struct {
	rooms    *RoomService
	bookings *BookingService
	now      func() time.Time
}

// NewDashboardLoader constructs a loader over the room and booking services.
func NewDashboardLoader(rooms *RoomService, bookings *BookingService, now func() time.Time) *DashboardLoader {
	if now == nil {
		now = time.Now
	}
	return &DashboardLoader{rooms: rooms, bookings: bookings, now: now}
}

// Load queries rooms, the principal's bookings and, for administrators, the
// pending queue. Any failing query fails the whole snapshot so a session
// never displays a partially refreshed view.
func (l *DashboardLoader) Load(ctx context.Context, principal Principal) (Dashboard, error) {
	if l == nil || l.rooms == nil || l.bookings == nil {
		return Dashboard{}, fmt.Errorf("dashboard loader not configured")
	}

	rooms, err := l.rooms.ListRooms(ctx, principal)
	if err != nil {
		return Dashboard{}, err
	}
	mine, err := l.bookings.ListMine(ctx, principal)
	if err != nil {
		return Dashboard{}, err
	}

	snapshot := Dashboard{Rooms: rooms, Mine: mine, LoadedAt: l.now()}
	if principal.IsAdmin {
		snapshot.Pending, err = l.bookings.ListPending(ctx, principal)
		if err != nil {
			return Dashboard{}, err
		}
	}
	return snapshot, nil
}
