package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
)

// Messages is the PostgreSQL-backed session.MessageStore. Message ids are
// assigned by the database sequence and are monotonically increasing per
// store, which gives the rooms their ordering contract.
type Messages struct {
	pool *pgxpool.Pool
}

func NewMessages(pool *pgxpool.Pool) *Messages {
	return &Messages{pool: pool}
}

// InsertMessage persists m and returns the assigned id.
func (s *Messages) InsertMessage(ctx context.Context, m *session.ChatMessage) (int64, error) {
	const q = `
		INSERT INTO session_messages (session_date, user_id, sender_name, sender_avatar, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q,
		m.SessionDate,
		m.UserID,
		m.SenderName,
		m.SenderAvatar,
		m.Text,
		m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert session message: %w", err)
	}

	return id, nil
}

// SoftDeleteMessage flags the message as deleted without physical removal.
func (s *Messages) SoftDeleteMessage(ctx context.Context, id int64) error {
	const q = `UPDATE session_messages SET deleted = TRUE WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("soft-delete session message %d: %w", id, err)
	}

	return nil
}

// RecentMessages returns up to limit non-deleted messages for the session
// date, ordered by ascending id. Used to warm a freshly created room.
func (s *Messages) RecentMessages(ctx context.Context, sessionDate string, limit int) ([]session.ChatMessage, error) {
	const q = `
		SELECT id, user_id, sender_name, sender_avatar, body, created_at
		FROM (
			SELECT id, user_id, sender_name, sender_avatar, body, created_at
			FROM session_messages
			WHERE session_date = $1 AND NOT deleted
			ORDER BY id DESC
			LIMIT $2
		) latest
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, q, sessionDate, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent session messages: %w", err)
	}
	defer rows.Close()

	var msgs []session.ChatMessage
	for rows.Next() {
		m := session.ChatMessage{SessionDate: sessionDate}
		if err := rows.Scan(&m.ID, &m.UserID, &m.SenderName, &m.SenderAvatar, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session messages: %w", err)
	}

	return msgs, nil
}
