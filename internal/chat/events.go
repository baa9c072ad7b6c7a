package chat

import (
	"time"

	"github.com/chathub/internal/model"
)

type EventType string

const (
	EventMessageNew      EventType = "message_new"
	EventMessageEdited   EventType = "message_edited"
	EventMessageDeleted  EventType = "message_deleted"
	EventReactionAdded   EventType = "reaction_added"
	EventReactionRemoved EventType = "reaction_removed"
	EventTypingStart     EventType = "typing_start"
	EventTypingStop      EventType = "typing_stop"
	EventUserOnline      EventType = "user_online"
	EventUserOffline     EventType = "user_offline"
	EventMemberJoined    EventType = "member_joined"
	EventMemberLeft      EventType = "member_left"
	EventRoomUpdated     EventType = "room_updated"
	EventRoomDeactivated EventType = "room_deactivated"
	EventError           EventType = "error"
)

// Event is what room subscribers receive. Payloads are typed structs, not
// map[string]any.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageEditedPayload is broadcast after an edit is persisted.
type MessageEditedPayload struct {
	MessageID int64     `json:"message_id"`
	RoomID    int64     `json:"room_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDeletedPayload is broadcast after a soft delete is persisted.
type MessageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
	RoomID    int64 `json:"room_id"`
}

// ReactionPayload is broadcast when a reaction toggles on or off.
type ReactionPayload struct {
	MessageID int64  `json:"message_id"`
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// TypingPayload is broadcast while a user is typing. Best effort only.
type TypingPayload struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

// PresencePayload is broadcast on online/offline transitions. Advisory, not
// ordered relative to messages.
type PresencePayload struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// MemberPayload is broadcast when a member joins or leaves a room.
type MemberPayload struct {
	RoomID   int64  `json:"room_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// RoomPayload is broadcast when room metadata changes.
type RoomPayload struct {
	Room *model.Room `json:"room"`
}

// ErrorPayload carries the structured failure kind back to one connection.
type ErrorPayload struct {
	Kind  Kind   `json:"kind"`
	Error string `json:"error"`
}
