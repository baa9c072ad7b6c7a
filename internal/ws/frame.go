package ws

import "github.com/chathub/internal/model"

// Op names a client-initiated frame.
type Op string

const (
	OpSubscribe      Op = "subscribe"
	OpUnsubscribe    Op = "unsubscribe"
	OpSendMessage    Op = "send_message"
	OpEditMessage    Op = "edit_message"
	OpDeleteMessage  Op = "delete_message"
	OpAddReaction    Op = "add_reaction"
	OpRemoveReaction Op = "remove_reaction"
	OpTypingStart    Op = "typing_start"
	OpTypingStop     Op = "typing_stop"
)

// Frame is what the client sends to the server. One flat shape for every
// op; unused fields stay zero.
type Frame struct {
	Op     Op    `json:"op"`
	RoomID int64 `json:"room_id,omitempty"`

	// For send_message
	Content string            `json:"content,omitempty"`
	Kind    model.MessageKind `json:"kind,omitempty"`

	// For reply
	ReplyToID *int64 `json:"reply_to_id,omitempty"`

	// For edit/delete/reactions
	MessageID int64 `json:"message_id,omitempty"`

	// For reactions
	Emoji string `json:"emoji,omitempty"`
}
