package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yebrai/dmchat/internal/domain/user"
)

type stubUsers map[int64]*user.User

func (s stubUsers) GetUser(_ context.Context, id int64) (*user.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}

type memMessages struct {
	mu        sync.Mutex
	msgs      []*Message
	createErr error
	markCalls int
}

func (r *memMessages) Create(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	m.ID = int64(len(r.msgs) + 1)
	cp := *m
	r.msgs = append(r.msgs, &cp)
	return nil
}

func (r *memMessages) FindConversation(_ context.Context, a, b int64) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Message
	for _, m := range r.msgs {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memMessages) MarkRead(_ context.Context, receiverID, senderID, upToID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markCalls++
	var n int64
	for _, m := range r.msgs {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead && m.ID <= upToID {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *memMessages) ListConversations(context.Context, int64) ([]*Conversation, error) {
	return nil, nil
}

func newTestUsers() stubUsers {
	return stubUsers{
		1: {ID: 1, Username: "alice", Avatar: "/static/uploads/a.png"},
		2: {ID: 2, Username: "bob"},
	}
}

func TestSend(t *testing.T) {
	repo := &memMessages{}
	svc := NewService(repo, newTestUsers())

	m, err := svc.Send(context.Background(), 1, 2, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, "hi", m.Body)
	assert.False(t, m.IsRead)
	assert.Equal(t, "alice", m.SenderName)
	assert.Equal(t, "/static/uploads/a.png", m.SenderAvatar)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestSendValidation(t *testing.T) {
	repo := &memMessages{}
	svc := NewService(repo, newTestUsers())
	ctx := context.Background()

	_, err := svc.Send(ctx, 1, 2, "   ")
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = svc.Send(ctx, 1, 2, strings.Repeat("x", MaxBodyLength+1))
	assert.ErrorIs(t, err, ErrBodyTooLong)

	_, err = svc.Send(ctx, 1, 42, "hi")
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	assert.Empty(t, repo.msgs)
}

func TestSendStoreFailure(t *testing.T) {
	repo := &memMessages{createErr: errors.New("disk full")}
	svc := NewService(repo, newTestUsers())

	_, err := svc.Send(context.Background(), 1, 2, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestConversationMarksReadOnce(t *testing.T) {
	ctx := context.Background()
	repo := &memMessages{}
	svc := NewService(repo, newTestUsers())

	_, err := svc.Send(ctx, 1, 2, "first")
	require.NoError(t, err)
	_, err = svc.Send(ctx, 2, 1, "reply")
	require.NoError(t, err)

	msgs, err := svc.Conversation(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsRead, "flag reported as stored before the fetch")

	msgs, err = svc.Conversation(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead, "messages sent by the viewer stay untouched")
	assert.Equal(t, 1, repo.markCalls, "nothing left to mark on the second fetch")
}

func TestConversationLeavesLaterMessagesUnread(t *testing.T) {
	ctx := context.Background()
	repo := &memMessages{}
	svc := NewService(repo, newTestUsers())

	_, err := svc.Send(ctx, 1, 2, "first")
	require.NoError(t, err)
	_, err = svc.Conversation(ctx, 2, 1)
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, 2, "second")
	require.NoError(t, err)

	assert.True(t, repo.msgs[0].IsRead)
	assert.False(t, repo.msgs[1].IsRead)

	msgs, err := svc.Conversation(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, repo.msgs[1].IsRead, "the next fetch marks the later message")
}
