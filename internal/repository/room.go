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

// RoomRepository is the durable room/membership store. Join, Leave and the
// capacity check are serialized per room by locking the room row inside a
// transaction, so two concurrent joins can never both pass a capacity check
// that only one should pass.
type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// Create inserts the room and the creator's admin membership atomically.
func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("roomRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (kind, name, description, created_by, capacity)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, is_active, created_at`,
		room.Kind, room.Name, room.Description, room.CreatedBy, room.Capacity,
	).Scan(&room.ID, &room.IsActive, &room.CreatedAt)
	if err != nil {
		return fmt.Errorf("roomRepo.Create insert room: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, role) VALUES ($1, $2, $3)`,
		room.ID, room.CreatedBy, model.RoleAdmin,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create insert membership: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("roomRepo.Create commit: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, name, COALESCE(description,''), created_by, capacity, is_active, created_at
		 FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.Kind, &room.Name, &room.Description, &room.CreatedBy, &room.Capacity, &room.IsActive, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) Update(ctx context.Context, id int64, name, description string, capacity int) error {
	defer logger.DeferLogDuration("room.Update", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE rooms SET name = $1, description = $2, capacity = $3 WHERE id = $4`,
		name, description, capacity, id,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Update: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a room; message history stays intact.
func (r *RoomRepository) Deactivate(ctx context.Context, id int64) error {
	defer logger.DeferLogDuration("room.Deactivate", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE rooms SET is_active = false WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Deactivate: %w", err)
	}
	return nil
}

// Join adds the identity to the room, reactivating an inactive membership
// instead of inserting a duplicate. The room row lock makes join/leave and
// the capacity check serial per room.
func (r *RoomRepository) Join(ctx context.Context, roomID, userID int64) (*model.Membership, error) {
	defer logger.DeferLogDuration("room.Join", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Join begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var kind model.RoomKind
	var capacity int
	var active bool
	err = tx.QueryRow(ctx,
		`SELECT kind, capacity, is_active FROM rooms WHERE id = $1 FOR UPDATE`, roomID,
	).Scan(&kind, &capacity, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Join lock room: %w", err)
	}
	if !active {
		return nil, chat.ErrRoomNotFound
	}

	var hadRow, wasActive bool
	err = tx.QueryRow(ctx,
		`SELECT true, is_active FROM memberships WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&hadRow, &wasActive)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("roomRepo.Join check membership: %w", err)
	}

	if wasActive {
		// Idempotent join: already an active member.
		return r.membershipTx(ctx, tx, roomID, userID)
	}
	// Private rooms require a prior membership row (an invite leaves one).
	if kind == model.RoomKindPrivate && !hadRow {
		return nil, chat.ErrPrivateRoomDenied
	}
	if kind == model.RoomKindDirect && !hadRow {
		return nil, chat.ErrPrivateRoomDenied
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE room_id = $1 AND is_active`, roomID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Join count members: %w", err)
	}
	if count >= capacity {
		return nil, chat.ErrRoomFull
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, role)
		 VALUES ($1, $2, 'member')
		 ON CONFLICT (room_id, user_id)
		 DO UPDATE SET is_active = true, joined_at = now()`,
		roomID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Join upsert: %w", err)
	}
	return r.membershipTx(ctx, tx, roomID, userID)
}

func (r *RoomRepository) membershipTx(ctx context.Context, tx pgx.Tx, roomID, userID int64) (*model.Membership, error) {
	m := &model.Membership{}
	err := tx.QueryRow(ctx,
		`SELECT room_id, user_id, role, is_active, joined_at, last_seen_at
		 FROM memberships WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&m.RoomID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt, &m.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.Join read membership: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("roomRepo.Join commit: %w", err)
	}
	return m, nil
}

// Leave marks the membership inactive. Calling it again, or for a user who
// already left, is a successful no-op.
func (r *RoomRepository) Leave(ctx context.Context, roomID, userID int64) error {
	defer logger.DeferLogDuration("room.Leave", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE memberships SET is_active = false, last_seen_at = now()
		 WHERE room_id = $1 AND user_id = $2 AND is_active`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Leave: %w", err)
	}
	return nil
}

// ListActiveMembers returns active members joined with user rows, in join
// order.
func (r *RoomRepository) ListActiveMembers(ctx context.Context, roomID int64) ([]model.Member, error) {
	defer logger.DeferLogDuration("room.ListActiveMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.avatar_url, u.created_at, m.role, m.joined_at
		 FROM users u
		 JOIN memberships m ON m.user_id = u.id
		 WHERE m.room_id = $1 AND m.is_active
		 ORDER BY m.joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListActiveMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.Member, 0, 8)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.User.ID, &m.User.Username, &m.User.AvatarURL, &m.User.CreatedAt, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.ListActiveMembers scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListActiveMembers rows: %w", err)
	}
	return members, nil
}

// ActiveMemberIDs returns the ids of active members.
func (r *RoomRepository) ActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	defer logger.DeferLogDuration("room.ActiveMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM memberships WHERE room_id = $1 AND is_active`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ActiveMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.ActiveMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ActiveMemberIDs rows: %w", err)
	}
	return ids, nil
}

func (r *RoomRepository) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	defer logger.DeferLogDuration("room.IsActiveMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM memberships WHERE room_id = $1 AND user_id = $2 AND is_active)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsActiveMember: %w", err)
	}
	return exists, nil
}

func (r *RoomRepository) MemberRole(ctx context.Context, roomID, userID int64) (model.MemberRole, error) {
	defer logger.DeferLogDuration("room.MemberRole", time.Now())()
	var role model.MemberRole
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM memberships WHERE room_id = $1 AND user_id = $2 AND is_active`,
		roomID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", chat.ErrNotAMember
	}
	if err != nil {
		return "", fmt.Errorf("roomRepo.MemberRole: %w", err)
	}
	return role, nil
}

// RoomsOf returns the active rooms the identity is an active member of.
func (r *RoomRepository) RoomsOf(ctx context.Context, userID int64) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.RoomsOf", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.kind, r.name, COALESCE(r.description,''), r.created_by, r.capacity, r.is_active, r.created_at
		 FROM rooms r
		 JOIN memberships m ON m.room_id = r.id
		 WHERE m.user_id = $1 AND m.is_active AND r.is_active
		 ORDER BY r.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.RoomsOf query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		var room model.Room
		if err := rows.Scan(&room.ID, &room.Kind, &room.Name, &room.Description, &room.CreatedBy, &room.Capacity, &room.IsActive, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.RoomsOf scan: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.RoomsOf rows: %w", err)
	}
	return rooms, nil
}

// UpdateLastSeen stamps last_seen_at on every active membership of the
// identity (called on disconnect).
func (r *RoomRepository) UpdateLastSeen(ctx context.Context, userID int64, t time.Time) error {
	defer logger.DeferLogDuration("room.UpdateLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE memberships SET last_seen_at = $1 WHERE user_id = $2 AND is_active`,
		t, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.UpdateLastSeen: %w", err)
	}
	return nil
}

// Invite inserts an inactive membership row for a private room, which later
// lets the invitee pass the prior-invite check in Join.
func (r *RoomRepository) Invite(ctx context.Context, roomID, userID int64) error {
	defer logger.DeferLogDuration("room.Invite", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO memberships (room_id, user_id, role, is_active)
		 VALUES ($1, $2, 'member', false)
		 ON CONFLICT DO NOTHING`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Invite: %w", err)
	}
	return nil
}
