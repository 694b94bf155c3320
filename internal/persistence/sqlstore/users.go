package sqlstore

import (
	"context"
	"strings"

	"github.com/example/hall-booking/internal/persistence"
)

const userColumns = `id, name, email, password, role, created_at`

// CreateUser inserts a new user and returns it with its assigned ID.
func (s *Store) CreateUser(ctx context.Context, user persistence.User) (persistence.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = persistence.RoleUser
	}
	user.CreatedAt = s.now().UTC()

	query := s.db.Rebind(`
		INSERT INTO users (name, email, password, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.withWriteLock(func() error {
		return s.db.GetContext(ctx, &user.ID, query,
			user.Name, user.Email, user.PasswordHash, string(user.Role), formatTimestamp(user.CreatedAt))
	})
	if err != nil {
		return persistence.User{}, s.fail(ctx, "create user", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (persistence.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.User{}, s.fail(ctx, "get user", err)
	}
	return row.toModel(), nil
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	if err := s.db.GetContext(ctx, &row, query, strings.ToLower(strings.TrimSpace(email))); err != nil {
		return persistence.User{}, s.fail(ctx, "get user by email", err)
	}
	return row.toModel(), nil
}

// SetUserRole changes the role of an existing user.
func (s *Store) SetUserRole(ctx context.Context, id int64, role persistence.Role) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := s.db.Rebind(`UPDATE users SET role = ? WHERE id = ?`)
	var affected int64
	err := s.withWriteLock(func() error {
		result, err := s.db.ExecContext(ctx, query, string(role), id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, s.fail(ctx, "set user role", err)
	}
	return affected > 0, nil
}

// withWriteLock serializes single-statement SQLite writes with transactions
// started by inTx.
func (s *Store) withWriteLock(fn func() error) error {
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	return fn()
}
