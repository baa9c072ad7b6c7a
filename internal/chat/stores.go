package chat

import (
	"context"
	"time"

	"github.com/chathub/internal/model"
)

// The chat services depend on narrow store interfaces so tests can run
// against in-memory fakes. internal/repository provides the pgx-backed
// implementations.

// MembershipStore is the authoritative join/leave/role state. Join must be
// serialized per room at the storage layer (capacity checks race otherwise)
// and returns ErrRoomNotFound, ErrPrivateRoomDenied or ErrRoomFull.
type MembershipStore interface {
	Create(ctx context.Context, room *model.Room) error
	GetByID(ctx context.Context, id int64) (*model.Room, error)
	Update(ctx context.Context, id int64, name, description string, capacity int) error
	Deactivate(ctx context.Context, id int64) error
	Join(ctx context.Context, roomID, userID int64) (*model.Membership, error)
	Leave(ctx context.Context, roomID, userID int64) error
	ListActiveMembers(ctx context.Context, roomID int64) ([]model.Member, error)
	ActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
	IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error)
	MemberRole(ctx context.Context, roomID, userID int64) (model.MemberRole, error)
	RoomsOf(ctx context.Context, userID int64) ([]model.Room, error)
	UpdateLastSeen(ctx context.Context, userID int64, t time.Time) error
	Invite(ctx context.Context, roomID, userID int64) error
}

// MessageStore persists messages; Create assigns the id that defines the
// room's order. GetByID returns ErrMessageNotFound when absent.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]model.Message, error)
	UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id int64) error
}

// ReactionStore persists reaction toggles.
type ReactionStore interface {
	Add(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	ListForMessage(ctx context.Context, messageID int64) ([]model.Reaction, error)
}

// IdentityStore reads identity rows (external collaborator, read-only).
type IdentityStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// DirectStore materializes direct rooms. Lookup returns 0 when the pair has
// no room yet; Create returns ErrDuplicateRoom when a concurrent caller won.
type DirectStore interface {
	Lookup(ctx context.Context, key PairKey) (int64, error)
	Create(ctx context.Context, key PairKey, createdBy int64) (int64, error)
}

// Notifier sends push notifications. Nil disables them; failures must never
// fail the triggering operation.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, data map[string]string)
}
