package model

import "time"

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindImage  MessageKind = "image"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// Message is immutable once persisted: edits flip is_edited and deletes are
// soft. The bigserial id assigned at insert defines the room's total order.
type Message struct {
	ID        int64       `json:"id"`
	RoomID    int64       `json:"room_id"`
	SenderID  int64       `json:"sender_id"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"kind"`
	ReplyToID *int64      `json:"reply_to_id,omitempty"`
	IsEdited  bool        `json:"is_edited"`
	IsDeleted bool        `json:"is_deleted"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *User       `json:"sender,omitempty"`
	ReplyTo   *Message    `json:"reply_to,omitempty"`
}

type Reaction struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
