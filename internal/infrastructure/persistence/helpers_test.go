package persistence

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yebrai/dmchat/internal/domain/user"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDB returns a migrated in-memory SQLite database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := NewSQLiteDB(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, DialectSQLite, discardLogger()))
	return db
}

func createUser(t *testing.T, repo user.Repository, username string) *user.User {
	t.Helper()
	now := time.Now().UTC()
	u := &user.User{Username: username, PasswordHash: "hash-" + username, LastSeen: now, CreatedAt: now}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}
