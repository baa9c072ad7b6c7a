package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
	"github.com/chathub/internal/registry"
	"github.com/chathub/internal/storage"
)

const (
	// MaxContentLength bounds message bodies.
	MaxContentLength = 4000
	// MaxEmojiLength bounds a reaction emoji string.
	MaxEmojiLength = 32

	notifyTimeout = 5 * time.Second
)

// Messages is the fan-out engine: it validates, persists, caches and
// broadcasts room messages. A per-room lock is held across persist and
// broadcast so every connection observes a room's messages in
// non-decreasing id order.
type Messages struct {
	reg      *registry.Registry
	store    MessageStore
	members  MembershipStore
	reacts   ReactionStore
	users    IdentityStore
	cache    storage.Store
	notifier Notifier

	roomLocks sync.Map // roomID -> *sync.Mutex
}

func NewMessages(reg *registry.Registry, store MessageStore, members MembershipStore, reacts ReactionStore, users IdentityStore, cache storage.Store, notifier Notifier) *Messages {
	return &Messages{
		reg:      reg,
		store:    store,
		members:  members,
		reacts:   reacts,
		users:    users,
		cache:    cache,
		notifier: notifier,
	}
}

func (s *Messages) lockRoom(roomID int64) *sync.Mutex {
	mu, _ := s.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Send persists a message and broadcasts it to the room's subscribers,
// sender included. Offline members get a best-effort push notification.
func (s *Messages) Send(ctx context.Context, sender, roomID int64, content string, kind model.MessageKind, replyToID *int64) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Send", time.Now())()

	room, err := s.members.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomNotFound
	}
	ok, err := s.members.IsActiveMember(ctx, roomID, sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}

	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxContentLength {
		return nil, ErrInvalidContent
	}
	if kind == "" {
		kind = model.MessageKindText
	}
	if replyToID != nil {
		parent, err := s.store.GetByID(ctx, *replyToID)
		if err != nil {
			return nil, ErrInvalidReply
		}
		if parent.RoomID != roomID {
			return nil, ErrInvalidReply
		}
	}

	msg := &model.Message{
		RoomID:    roomID,
		SenderID:  sender,
		Content:   content,
		Kind:      kind,
		ReplyToID: replyToID,
	}

	mu := s.lockRoom(roomID)
	mu.Lock()
	if err := s.store.Create(ctx, msg); err != nil {
		mu.Unlock()
		return nil, err
	}
	if u, err := s.users.GetByID(ctx, sender); err == nil {
		msg.Sender = u
	}
	if payload, err := json.Marshal(msg); err == nil {
		if err := s.cache.PushRecent(ctx, roomID, payload); err != nil {
			logger.Errorf("messages.Send: cache append room %d: %v", roomID, err)
		}
	}
	s.reg.Publish(roomID, Event{Type: EventMessageNew, Payload: msg}, 0)
	mu.Unlock()

	go s.notifyOffline(roomID, msg)
	return msg, nil
}

// Edit replaces a message's content. Only the sender may edit.
func (s *Messages) Edit(ctx context.Context, identity, messageID int64, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Edit", time.Now())()

	msg, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != identity {
		return nil, ErrForbidden
	}
	content = strings.TrimSpace(content)
	if content == "" || len(content) > MaxContentLength {
		return nil, ErrInvalidContent
	}

	now := time.Now().UTC()
	mu := s.lockRoom(msg.RoomID)
	mu.Lock()
	defer mu.Unlock()
	if err := s.store.UpdateContent(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateRecent(ctx, msg.RoomID); err != nil {
		logger.Errorf("messages.Edit: cache invalidate room %d: %v", msg.RoomID, err)
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	s.reg.Publish(msg.RoomID, Event{Type: EventMessageEdited, Payload: MessageEditedPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		Content:   content,
		EditedAt:  now,
	}}, 0)
	return msg, nil
}

// Delete soft-deletes a message, keeping the row for reply threading. Only
// the sender, or a room admin, may delete.
func (s *Messages) Delete(ctx context.Context, identity, messageID int64) error {
	defer logger.DeferLogDuration("messages.Delete", time.Now())()

	msg, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if msg.SenderID != identity {
		role, err := s.members.MemberRole(ctx, msg.RoomID, identity)
		if err != nil || role != model.RoleAdmin {
			return ErrForbidden
		}
	}

	mu := s.lockRoom(msg.RoomID)
	mu.Lock()
	defer mu.Unlock()
	if err := s.store.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	if err := s.cache.InvalidateRecent(ctx, msg.RoomID); err != nil {
		logger.Errorf("messages.Delete: cache invalidate room %d: %v", msg.RoomID, err)
	}
	s.reg.Publish(msg.RoomID, Event{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
	}}, 0)
	return nil
}

// React toggles an emoji reaction. The broadcast only goes out when the
// stored state actually changed, so repeated toggles stay idempotent on the
// wire.
func (s *Messages) React(ctx context.Context, identity, messageID int64, emoji string, add bool) error {
	defer logger.DeferLogDuration("messages.React", time.Now())()

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > MaxEmojiLength {
		return ErrInvalidContent
	}
	msg, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return ErrMessageNotFound
	}
	ok, err := s.members.IsActiveMember(ctx, msg.RoomID, identity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAMember
	}

	var changed bool
	if add {
		changed, err = s.reacts.Add(ctx, messageID, identity, emoji)
	} else {
		changed, err = s.reacts.Remove(ctx, messageID, identity, emoji)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	typ := EventReactionAdded
	if !add {
		typ = EventReactionRemoved
	}
	s.reg.Publish(msg.RoomID, Event{Type: typ, Payload: ReactionPayload{
		MessageID: messageID,
		RoomID:    msg.RoomID,
		UserID:    identity,
		Emoji:     emoji,
	}}, 0)
	return nil
}

// Typing broadcasts a typing indicator to everyone else in the room. Nothing
// is persisted and the caller's subscription is checked by the transport, so
// this path does no storage I/O.
func (s *Messages) Typing(identity, roomID int64, start bool) {
	typ := EventTypingStart
	if !start {
		typ = EventTypingStop
	}
	s.reg.Publish(roomID, Event{Type: typ, Payload: TypingPayload{
		RoomID: roomID,
		UserID: identity,
	}}, identity)
}

// Recent returns the room's recent window, cache-first. A cache miss
// backfills from durable storage and rewarms the buffer.
func (s *Messages) Recent(ctx context.Context, identity, roomID int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("messages.Recent", time.Now())()

	ok, err := s.members.IsActiveMember(ctx, roomID, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}
	if limit <= 0 {
		limit = 50
	}

	if raw, err := s.cache.GetRecent(ctx, roomID); err == nil && len(raw) > 0 {
		msgs := make([]model.Message, 0, len(raw))
		for _, b := range raw {
			var m model.Message
			if err := json.Unmarshal(b, &m); err != nil {
				msgs = nil
				break
			}
			msgs = append(msgs, m)
		}
		if msgs != nil {
			if len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			return msgs, nil
		}
	}

	msgs, err := s.store.ListBefore(ctx, roomID, 0, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if payload, err := json.Marshal(m); err == nil {
			if err := s.cache.PushRecent(ctx, roomID, payload); err != nil {
				logger.Errorf("messages.Recent: cache warm room %d: %v", roomID, err)
				break
			}
		}
	}
	return msgs, nil
}

// Backfill pages history strictly before beforeID (0 means newest), returned
// oldest-first.
func (s *Messages) Backfill(ctx context.Context, identity, roomID, beforeID int64, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("messages.Backfill", time.Now())()

	ok, err := s.members.IsActiveMember(ctx, roomID, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListBefore(ctx, roomID, beforeID, limit)
}

// Reactions lists the reactions on one message; requester must be a member.
func (s *Messages) Reactions(ctx context.Context, identity, messageID int64) ([]model.Reaction, error) {
	msg, err := s.store.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ok, err := s.members.IsActiveMember(ctx, msg.RoomID, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}
	return s.reacts.ListForMessage(ctx, messageID)
}

func (s *Messages) notifyOffline(roomID int64, msg *model.Message) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	ids, err := s.members.ActiveMemberIDs(ctx, roomID)
	if err != nil {
		logger.Errorf("messages.notifyOffline: members of room %d: %v", roomID, err)
		return
	}
	title := "New message"
	if msg.Sender != nil {
		title = msg.Sender.Username
	}
	body := msg.Content
	if len(body) > 120 {
		body = body[:120]
	}
	data := map[string]string{
		"room_id":    strconv.FormatInt(roomID, 10),
		"message_id": strconv.FormatInt(msg.ID, 10),
	}
	for _, id := range ids {
		if id == msg.SenderID || s.reg.IsOnline(id) {
			continue
		}
		s.notifier.Notify(ctx, id, title, body, data)
	}
}
