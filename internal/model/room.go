package model

import "time"

type RoomKind string

const (
	RoomKindPublic  RoomKind = "public"
	RoomKindPrivate RoomKind = "private"
	RoomKindDirect  RoomKind = "direct"
)

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// DirectRoomCapacity is the frozen capacity of a two-party direct room.
const DirectRoomCapacity = 2

type Room struct {
	ID          int64     `json:"id"`
	Kind        RoomKind  `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   int64     `json:"created_by"`
	Capacity    int       `json:"capacity"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership records join state for a (user, room) pair. Rows are never
// deleted: leaving flips is_active so "left" stays distinguishable from
// "never joined".
type Membership struct {
	RoomID     int64      `json:"room_id"`
	UserID     int64      `json:"user_id"`
	Role       MemberRole `json:"role"`
	IsActive   bool       `json:"is_active"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
}

// Member is an active room member joined with its user row,
// ordered by join time.
type Member struct {
	User     User       `json:"user"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}
