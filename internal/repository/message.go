package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists the message. The assigned id defines the room's total
// order; the caller must not fan out before this returns.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, sender_id, content, kind, reply_to_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		m.RoomID, m.SenderID, m.Content, m.Kind, m.ReplyToID,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.kind, m.reply_to_id,
		        m.is_edited, m.is_deleted, m.edited_at, m.created_at,
		        u.id, u.username, u.avatar_url, u.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Kind, &m.ReplyToID,
		&m.IsEdited, &m.IsDeleted, &m.EditedAt, &m.CreatedAt,
		&sender.ID, &sender.Username, &sender.AvatarURL, &sender.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// ListBefore returns up to limit messages of the room with id < beforeID
// (beforeID 0 means newest), in ascending id order so callers can replay
// them in delivery order.
func (r *MessageRepository) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBefore", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.room_id, m.sender_id, m.content, m.kind, m.reply_to_id,
		        m.is_edited, m.is_deleted, m.edited_at, m.created_at,
		        u.id, u.username, u.avatar_url, u.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.room_id = $1 AND ($2 = 0 OR m.id < $2)
		 ORDER BY m.id DESC
		 LIMIT $3`, roomID, beforeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.User{}
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Kind, &m.ReplyToID,
			&m.IsEdited, &m.IsDeleted, &m.EditedAt, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.AvatarURL, &sender.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListBefore scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore rows: %w", err)
	}
	// Reverse to ascending id order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateContent edits a message in place, flagging it as edited.
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET content = $1, is_edited = true, edited_at = $2 WHERE id = $3`,
		content, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	return nil
}

// SoftDelete marks a message as deleted and clears its content. The row is
// kept so reply chains and room order stay intact.
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = true, content = '' WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}
