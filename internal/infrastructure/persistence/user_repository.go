package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yebrai/dmchat/internal/domain/user"
)

const userColumns = `u.id, u.username, u.password_hash, u.status, u.last_seen, u.created_at,
	COALESCE(p.bio, ''), COALESCE(p.avatar, ?)`

const userFrom = `FROM users u LEFT JOIN profiles p ON p.user_id = u.id`

// SQLUserRepository implements user.Repository over PostgreSQL or SQLite.
type SQLUserRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLUserRepository creates a new SQLUserRepository.
func NewSQLUserRepository(db *sql.DB, dialect Dialect) *SQLUserRepository {
	return &SQLUserRepository{db: db, dialect: dialect}
}

var _ user.Repository = (*SQLUserRepository)(nil)

// Create inserts the user and its profile in one transaction.
func (r *SQLUserRepository) Create(ctx context.Context, u *user.User) error {
	avatar := u.Avatar
	if avatar == "" {
		avatar = user.DefaultAvatar
	}
	status := u.Status
	if status == "" {
		status = user.StatusOffline
	}

	err := withTx(ctx, r.db, func(tx dbtx) error {
		var id int64
		err := tx.QueryRowContext(ctx, r.dialect.Rebind(
			`INSERT INTO users (username, password_hash, status, last_seen, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`),
			u.Username, u.PasswordHash, string(status), toMillis(u.LastSeen), toMillis(u.CreatedAt),
		).Scan(&id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, r.dialect.Rebind(
			`INSERT INTO profiles (user_id, bio, avatar) VALUES (?, ?, ?)`),
			id, u.Bio, avatar,
		); err != nil {
			return err
		}
		u.ID = id
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return user.ErrUsernameTaken
		}
		return fmt.Errorf("db error: %w", err)
	}
	u.Status = status
	u.Avatar = avatar
	return nil
}

// FindByID returns the user with the given id or user.ErrUserNotFound.
func (r *SQLUserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`SELECT `+userColumns+` `+userFrom+` WHERE u.id = ?`),
		user.DefaultAvatar, id,
	)
	return scanUser(row)
}

// FindByUsername returns the user with the given username or user.ErrUserNotFound.
func (r *SQLUserRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`SELECT `+userColumns+` `+userFrom+` WHERE u.username = ?`),
		user.DefaultAvatar, username,
	)
	return scanUser(row)
}

// SetStatus updates the presence status and last-seen time.
func (r *SQLUserRepository) SetStatus(ctx context.Context, id int64, status user.Status, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE users SET status = ?, last_seen = ? WHERE id = ?`),
		string(status), toMillis(lastSeen), id,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireAffected(res, user.ErrUserNotFound)
}

// UpdateProfile replaces the bio and avatar.
func (r *SQLUserRepository) UpdateProfile(ctx context.Context, id int64, bio, avatar string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE profiles SET bio = ?, avatar = ? WHERE user_id = ?`),
		bio, avatar, id,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireAffected(res, user.ErrUserNotFound)
}

// ListOthers returns all users except excludeID, online first, then by username.
func (r *SQLUserRepository) ListOthers(ctx context.Context, excludeID int64) ([]*user.User, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		`SELECT `+userColumns+` `+userFrom+`
		WHERE u.id <> ?
		ORDER BY CASE WHEN u.status = ? THEN 0 ELSE 1 END, u.username`),
		user.DefaultAvatar, excludeID, string(user.StatusOnline),
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	users := make([]*user.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*user.User, error) {
	var (
		u                   user.User
		status              string
		lastSeen, createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &status, &lastSeen, &createdAt, &u.Bio, &u.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Status = user.Status(status)
	u.LastSeen = fromMillis(lastSeen)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
