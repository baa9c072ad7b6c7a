package ws

import (
	"context"
	"errors"
	"time"

	"github.com/chathub/internal/chat"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/registry"
)

const opTimeout = 5 * time.Second

// Router dispatches client frames to the chat services. It is shared by all
// connections; per-connection state lives in Client and the registry.
type Router struct {
	reg      *registry.Registry
	rooms    *chat.Rooms
	messages *chat.Messages
	members  chat.MembershipStore
}

func NewRouter(reg *registry.Registry, rooms *chat.Rooms, messages *chat.Messages, members chat.MembershipStore) *Router {
	return &Router{reg: reg, rooms: rooms, messages: messages, members: members}
}

// Handle runs one frame. Failures go back to the sending connection only,
// as error events; they never close the connection.
func (rt *Router) Handle(ctx context.Context, c *Client, f Frame) {
	switch f.Op {
	case OpSubscribe:
		rt.handleSubscribe(ctx, c, f)
	case OpUnsubscribe:
		rt.reg.Unsubscribe(c.id, f.RoomID)
	case OpSendMessage:
		rt.handleSend(ctx, c, f)
	case OpEditMessage:
		rt.handleEdit(ctx, c, f)
	case OpDeleteMessage:
		rt.handleDelete(ctx, c, f)
	case OpAddReaction:
		rt.handleReaction(ctx, c, f, true)
	case OpRemoveReaction:
		rt.handleReaction(ctx, c, f, false)
	case OpTypingStart:
		rt.handleTyping(c, f, true)
	case OpTypingStop:
		rt.handleTyping(c, f, false)
	default:
		c.sendError(&chat.Error{Kind: chat.KindInvalidContent, Msg: "unknown op"})
	}
}

// handleSubscribe checks active membership, then attaches the connection to
// the room's fan-out channel.
func (rt *Router) handleSubscribe(ctx context.Context, c *Client, f Frame) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ok, err := rt.members.IsActiveMember(ctx, f.RoomID, c.identity)
	if err != nil {
		logger.Errorf("ws subscribe room=%d user=%d: %v", f.RoomID, c.identity, err)
		c.sendError(err)
		return
	}
	if !ok {
		c.sendError(chat.ErrNotAMember)
		return
	}
	if err := rt.reg.Subscribe(c.id, f.RoomID); err != nil {
		c.sendError(err)
	}
}

func (rt *Router) handleSend(ctx context.Context, c *Client, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := rt.messages.Send(ctx, c.identity, f.RoomID, f.Content, f.Kind, f.ReplyToID); err != nil {
		c.sendError(err)
	}
}

func (rt *Router) handleEdit(ctx context.Context, c *Client, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := rt.messages.Edit(ctx, c.identity, f.MessageID, f.Content); err != nil {
		c.sendError(err)
	}
}

func (rt *Router) handleDelete(ctx context.Context, c *Client, f Frame) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := rt.messages.Delete(ctx, c.identity, f.MessageID); err != nil {
		c.sendError(err)
	}
}

func (rt *Router) handleReaction(ctx context.Context, c *Client, f Frame, add bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := rt.messages.React(ctx, c.identity, f.MessageID, f.Emoji, add); err != nil {
		c.sendError(err)
	}
}

// handleTyping forwards the indicator when the connection is subscribed to
// the room. Subscription state is in-memory, so this path never touches
// storage.
func (rt *Router) handleTyping(c *Client, f Frame, start bool) {
	for _, roomID := range rt.reg.Rooms(c.id) {
		if roomID == f.RoomID {
			rt.messages.Typing(c.identity, f.RoomID, start)
			return
		}
	}
	c.sendError(chat.ErrNotAMember)
}

// errorPayload maps a failure to the structured wire form. Non-chat errors
// collapse to an opaque internal kind.
func errorPayload(err error) chat.ErrorPayload {
	var ce *chat.Error
	if errors.As(err, &ce) {
		return chat.ErrorPayload{Kind: ce.Kind, Error: ce.Msg}
	}
	if errors.Is(err, registry.ErrUnknownConnection) {
		return chat.ErrorPayload{Kind: chat.KindUnauthenticated, Error: "connection not registered"}
	}
	return chat.ErrorPayload{Kind: "internal", Error: "internal error"}
}
