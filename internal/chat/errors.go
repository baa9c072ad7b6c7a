package chat

// Kind classifies a chat-core failure for callers. The kind and the message
// are the only things exposed; storage errors never leak past this package
// boundary in structured responses.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindNotAMember        Kind = "not_a_member"
	KindRoomNotFound      Kind = "room_not_found"
	KindPrivateRoomDenied Kind = "private_room_denied"
	KindRoomFull          Kind = "room_full"
	KindInvalidName       Kind = "invalid_name"
	KindInvalidContent    Kind = "invalid_content"
	KindInvalidReply      Kind = "invalid_reply"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindInvalidPair       Kind = "invalid_pair"
	// KindDuplicateRoom marks a lost direct-room creation race. The resolver
	// retries the lookup itself; callers never see this kind.
	KindDuplicateRoom Kind = "duplicate_room"
)

// Error is a structured chat failure with a caller-visible kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Msg: "identity not verified"}
	ErrNotAMember        = &Error{Kind: KindNotAMember, Msg: "not a member of this room"}
	ErrRoomNotFound      = &Error{Kind: KindRoomNotFound, Msg: "room not found"}
	ErrPrivateRoomDenied = &Error{Kind: KindPrivateRoomDenied, Msg: "room is private"}
	ErrRoomFull          = &Error{Kind: KindRoomFull, Msg: "room is at capacity"}
	ErrInvalidName       = &Error{Kind: KindInvalidName, Msg: "room name is empty or too long"}
	ErrInvalidContent    = &Error{Kind: KindInvalidContent, Msg: "message content is empty or too long"}
	ErrInvalidReply      = &Error{Kind: KindInvalidReply, Msg: "reply target is not in this room"}
	ErrForbidden         = &Error{Kind: KindForbidden, Msg: "admin role required"}
	ErrMessageNotFound   = &Error{Kind: KindNotFound, Msg: "message not found"}
	ErrInvalidPair       = &Error{Kind: KindInvalidPair, Msg: "a direct room needs two distinct identities"}
	ErrDuplicateRoom     = &Error{Kind: KindDuplicateRoom, Msg: "direct room already exists"}
)
