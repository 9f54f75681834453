package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
)

func sendMessage(t *testing.T, repo chat.MessageRepository, from, to int64, body string) *chat.Message {
	t.Helper()
	m := &chat.Message{SenderID: from, ReceiverID: to, Body: body, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(context.Background(), m))
	return m
}

func TestMessageRepositoryConversation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLUserRepository(db, DialectSQLite)
	msgs := NewSQLMessageRepository(db, DialectSQLite)

	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")
	carol := createUser(t, users, "carol")
	require.NoError(t, users.UpdateProfile(ctx, alice.ID, "", "/static/uploads/a.png"))

	m1 := sendMessage(t, msgs, alice.ID, bob.ID, "hi bob")
	sendMessage(t, msgs, bob.ID, alice.ID, "hi alice")
	sendMessage(t, msgs, carol.ID, bob.ID, "unrelated")

	conv, err := msgs.FindConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, m1.ID, conv[0].ID)
	assert.Equal(t, "hi bob", conv[0].Body)
	assert.Equal(t, "alice", conv[0].SenderName)
	assert.Equal(t, "/static/uploads/a.png", conv[0].SenderAvatar)
	assert.False(t, conv[0].IsRead)
	assert.Equal(t, "bob", conv[1].SenderName)
	assert.Equal(t, user.DefaultAvatar, conv[1].SenderAvatar)
}

func TestMessageRepositoryMarkRead(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLUserRepository(db, DialectSQLite)
	msgs := NewSQLMessageRepository(db, DialectSQLite)
	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")

	first := sendMessage(t, msgs, alice.ID, bob.ID, "one")
	sendMessage(t, msgs, alice.ID, bob.ID, "two")

	n, err := msgs.MarkRead(ctx, bob.ID, alice.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = msgs.MarkRead(ctx, bob.ID, alice.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already read messages do not flip again")

	conv, err := msgs.FindConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.True(t, conv[0].IsRead)
	assert.False(t, conv[1].IsRead)
}

func TestMessageRepositoryListConversations(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewSQLUserRepository(db, DialectSQLite)
	msgs := NewSQLMessageRepository(db, DialectSQLite)
	alice := createUser(t, users, "alice")
	bob := createUser(t, users, "bob")
	carol := createUser(t, users, "carol")

	sendMessage(t, msgs, bob.ID, alice.ID, "from bob 1")
	sendMessage(t, msgs, bob.ID, alice.ID, "from bob 2")
	sendMessage(t, msgs, alice.ID, carol.ID, "to carol")

	convs, err := msgs.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, carol.ID, convs[0].PartnerID)
	assert.Equal(t, "to carol", convs[0].LastMessage)
	assert.Equal(t, 0, convs[0].UnreadCount)

	assert.Equal(t, bob.ID, convs[1].PartnerID)
	assert.Equal(t, "bob", convs[1].Username)
	assert.Equal(t, "from bob 2", convs[1].LastMessage)
	assert.Equal(t, 2, convs[1].UnreadCount)
	assert.Equal(t, string(user.StatusOffline), convs[1].Status)
}

func TestMessageRepositoryCreateFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLMessageRepository(db, DialectPostgres)

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+messages.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id$`).
		WithArgs(int64(1), int64(2), "hi", sqlmock.AnyArg(), false).
		WillReturnError(assert.AnError)

	m := &chat.Message{SenderID: 1, ReceiverID: 2, Body: "hi", CreatedAt: time.Now()}
	err = repo.Create(context.Background(), m)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, m.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
