package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// DirectRoomRepository materializes two-party direct rooms. The UNIQUE
// constraint on the canonical (user_lo, user_hi) pair is the arbiter for
// concurrent first contact; an in-process check alone would not be.
type DirectRoomRepository struct {
	pool *pgxpool.Pool
}

func NewDirectRoomRepository(pool *pgxpool.Pool) *DirectRoomRepository {
	return &DirectRoomRepository{pool: pool}
}

// Lookup returns the direct room for the canonical pair, or 0 when no such
// room exists yet.
func (r *DirectRoomRepository) Lookup(ctx context.Context, key chat.PairKey) (int64, error) {
	defer logger.DeferLogDuration("direct.Lookup", time.Now())()
	var roomID int64
	err := r.pool.QueryRow(ctx,
		`SELECT room_id FROM direct_rooms WHERE user_lo = $1 AND user_hi = $2`,
		key.Lo, key.Hi,
	).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("directRepo.Lookup: %w", err)
	}
	return roomID, nil
}

// Create inserts the direct room, both memberships and the pair key in one
// transaction. When another caller won the race it returns
// chat.ErrDuplicateRoom so the resolver can re-lookup; the duplicate is
// never surfaced further.
func (r *DirectRoomRepository) Create(ctx context.Context, key chat.PairKey, createdBy int64) (int64, error) {
	defer logger.DeferLogDuration("direct.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("directRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var roomID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (kind, name, created_by, capacity)
		 VALUES ($1, '', $2, $3)
		 RETURNING id`,
		model.RoomKindDirect, createdBy, model.DirectRoomCapacity,
	).Scan(&roomID)
	if err != nil {
		return 0, fmt.Errorf("directRepo.Create insert room: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, role) VALUES ($1, $2, 'member'), ($1, $3, 'member')`,
		roomID, key.Lo, key.Hi,
	)
	if err != nil {
		return 0, fmt.Errorf("directRepo.Create insert memberships: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO direct_rooms (user_lo, user_hi, room_id) VALUES ($1, $2, $3)`,
		key.Lo, key.Hi, roomID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, chat.ErrDuplicateRoom
		}
		return 0, fmt.Errorf("directRepo.Create insert pair: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, chat.ErrDuplicateRoom
		}
		return 0, fmt.Errorf("directRepo.Create commit: %w", err)
	}
	return roomID, nil
}
