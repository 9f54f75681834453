package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yebrai/dmchat/internal/domain/user"
)

func TestUserRepositoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLUserRepository(openTestDB(t), DialectSQLite)

	alice := createUser(t, repo, "alice")
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, user.StatusOffline, alice.Status)

	got, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hash-alice", got.PasswordHash)
	assert.Equal(t, user.DefaultAvatar, got.Avatar)
	assert.Equal(t, "", got.Bio)
	assert.True(t, alice.CreatedAt.Truncate(time.Millisecond).Equal(got.CreatedAt))

	got, err = repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, user.ErrUserNotFound)
	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, user.ErrUserNotFound)
}

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	repo := NewSQLUserRepository(openTestDB(t), DialectSQLite)
	createUser(t, repo, "alice")

	err := repo.Create(context.Background(), &user.User{Username: "alice", PasswordHash: "x"})
	assert.ErrorIs(t, err, user.ErrUsernameTaken)
}

func TestUserRepositoryStatusAndProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLUserRepository(openTestDB(t), DialectSQLite)
	alice := createUser(t, repo, "alice")

	seen := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	require.NoError(t, repo.SetStatus(ctx, alice.ID, user.StatusOnline, seen))
	require.NoError(t, repo.UpdateProfile(ctx, alice.ID, "hello", "/static/uploads/x_a.png"))

	got, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, user.StatusOnline, got.Status)
	assert.Equal(t, seen, got.LastSeen)
	assert.Equal(t, "hello", got.Bio)
	assert.Equal(t, "/static/uploads/x_a.png", got.Avatar)

	assert.ErrorIs(t, repo.SetStatus(ctx, 42, user.StatusOnline, seen), user.ErrUserNotFound)
	assert.ErrorIs(t, repo.UpdateProfile(ctx, 42, "", ""), user.ErrUserNotFound)
}

func TestUserRepositoryListOthers(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLUserRepository(openTestDB(t), DialectSQLite)
	me := createUser(t, repo, "me")
	createUser(t, repo, "carol")
	bob := createUser(t, repo, "bob")
	createUser(t, repo, "alice")
	require.NoError(t, repo.SetStatus(ctx, bob.ID, user.StatusOnline, time.Now()))

	others, err := repo.ListOthers(ctx, me.ID)
	require.NoError(t, err)

	names := make([]string, 0, len(others))
	for _, u := range others {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"bob", "alice", "carol"}, names)
}

func TestUserRepositoryPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLUserRepository(db, DialectPostgres)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET status = $1, last_seen = $2 WHERE id = $3`)).
		WithArgs("offline", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SetStatus(context.Background(), 7, user.StatusOffline, time.Now())
	assert.ErrorIs(t, err, user.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateRollsBackOnProfileFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLUserRepository(db, DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+users.*RETURNING\s+id$`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO profiles`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	u := &user.User{Username: "alice", PasswordHash: "h"}
	err = repo.Create(context.Background(), u)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, int64(0), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
