package sqlstore

import (
	"context"

	"github.com/example/hall-booking/internal/persistence"
)

const roomColumns = `id, name, capacity, created_at, updated_at`

// CreateRoom inserts a new room and returns it with its assigned ID.
func (s *Store) CreateRoom(ctx context.Context, room persistence.Room) (persistence.Room, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	room.CreatedAt = s.now().UTC()
	room.UpdatedAt = room.CreatedAt

	query := s.db.Rebind(`
		INSERT INTO rooms (name, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`)

	err := s.withWriteLock(func() error {
		return s.db.GetContext(ctx, &room.ID, query,
			room.Name, room.Capacity, formatTimestamp(room.CreatedAt), formatTimestamp(room.UpdatedAt))
	})
	if err != nil {
		return persistence.Room{}, s.fail(ctx, "create room", err)
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *Store) GetRoom(ctx context.Context, id int64) (persistence.Room, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row roomRow
	query := s.db.Rebind(`SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Room{}, s.fail(ctx, "get room", err)
	}
	return row.toModel(), nil
}

// UpdateRoom replaces the name and capacity of an existing room.
func (s *Store) UpdateRoom(ctx context.Context, room persistence.Room) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := s.db.Rebind(`
		UPDATE rooms
		SET name = ?, capacity = ?, updated_at = ?
		WHERE id = ?`)

	var affected int64
	err := s.withWriteLock(func() error {
		result, err := s.db.ExecContext(ctx, query, room.Name, room.Capacity, s.timestamp(), room.ID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, s.fail(ctx, "update room", err)
	}
	return affected > 0, nil
}

// ListRooms returns all rooms ordered by name.
func (s *Store) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []roomRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roomColumns+` FROM rooms ORDER BY name ASC, id ASC`); err != nil {
		return nil, s.fail(ctx, "list rooms", err)
	}

	rooms := make([]persistence.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toModel())
	}
	return rooms, nil
}
