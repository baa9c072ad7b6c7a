package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
)

type ReactionRepository struct {
	pool *pgxpool.Pool
}

func NewReactionRepository(pool *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{pool: pool}
}

// Add persists a reaction. Returns false when the identical reaction already
// exists (toggle callers treat that as "already on").
func (r *ReactionRepository) Add(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Add: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Remove deletes a reaction. Returns false when there was nothing to remove.
func (r *ReactionRepository) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("reactionRepo.Remove: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ReactionRepository) ListForMessage(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	defer logger.DeferLogDuration("reaction.ListForMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, emoji, created_at
		 FROM reactions WHERE message_id = $1 ORDER BY created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("reactionRepo.ListForMessage query: %w", err)
	}
	defer rows.Close()

	reactions := make([]model.Reaction, 0, 8)
	for rows.Next() {
		var re model.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, fmt.Errorf("reactionRepo.ListForMessage scan: %w", err)
		}
		reactions = append(reactions, re)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reactionRepo.ListForMessage rows: %w", err)
	}
	return reactions, nil
}
