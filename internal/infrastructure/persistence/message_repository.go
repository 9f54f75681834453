package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
)

// SQLMessageRepository implements chat.MessageRepository over PostgreSQL or SQLite.
type SQLMessageRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLMessageRepository creates a new SQLMessageRepository.
func NewSQLMessageRepository(db *sql.DB, dialect Dialect) *SQLMessageRepository {
	return &SQLMessageRepository{db: db, dialect: dialect}
}

var _ chat.MessageRepository = (*SQLMessageRepository)(nil)

// Create inserts an unread message and fills in its ID.
func (r *SQLMessageRepository) Create(ctx context.Context, m *chat.Message) error {
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`INSERT INTO messages (sender_id, receiver_id, body, created_at, is_read)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		m.SenderID, m.ReceiverID, m.Body, toMillis(m.CreatedAt), false,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	m.IsRead = false
	return nil
}

// FindConversation returns every message between a and b ordered by id.
func (r *SQLMessageRepository) FindConversation(ctx context.Context, a, b int64) ([]*chat.Message, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		`SELECT m.id, m.sender_id, m.receiver_id, m.body, m.created_at, m.is_read,
			u.username, COALESCE(p.avatar, ?)
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		LEFT JOIN profiles p ON p.user_id = m.sender_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.id ASC`),
		user.DefaultAvatar, a, b, b, a,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	msgs := make([]*chat.Message, 0)
	for rows.Next() {
		var (
			m         chat.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &createdAt, &m.IsRead,
			&m.SenderName, &m.SenderAvatar); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		m.CreatedAt = fromMillis(createdAt)
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return msgs, nil
}

// MarkRead flips unread messages from senderID to receiverID up to and including upToID.
func (r *SQLMessageRepository) MarkRead(ctx context.Context, receiverID, senderID, upToID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`UPDATE messages SET is_read = ?
		WHERE receiver_id = ? AND sender_id = ? AND is_read = ? AND id <= ?`),
		true, receiverID, senderID, false, upToID,
	)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// ListConversations summarizes each partner of userID by the latest message.
func (r *SQLMessageRepository) ListConversations(ctx context.Context, userID int64) ([]*chat.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		`SELECT t.partner_id, u.username, COALESCE(p.avatar, ?), u.status, m.body, m.created_at,
			(SELECT COUNT(*) FROM messages x
				WHERE x.receiver_id = ? AND x.sender_id = t.partner_id AND x.is_read = ?) AS unread
		FROM (
			SELECT partner_id, MAX(id) AS last_id FROM (
				SELECT receiver_id AS partner_id, id FROM messages WHERE sender_id = ?
				UNION ALL
				SELECT sender_id AS partner_id, id FROM messages WHERE receiver_id = ?
			) pairs
			GROUP BY partner_id
		) t
		JOIN messages m ON m.id = t.last_id
		JOIN users u ON u.id = t.partner_id
		LEFT JOIN profiles p ON p.user_id = t.partner_id
		ORDER BY m.id DESC`),
		user.DefaultAvatar, userID, false, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	convs := make([]*chat.Conversation, 0)
	for rows.Next() {
		var (
			c      chat.Conversation
			lastAt int64
		)
		if err := rows.Scan(&c.PartnerID, &c.Username, &c.Avatar, &c.Status, &c.LastMessage, &lastAt,
			&c.UnreadCount); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		c.LastMessageAt = fromMillis(lastAt)
		convs = append(convs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return convs, nil
}
