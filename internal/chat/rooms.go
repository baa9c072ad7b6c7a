package chat

import (
	"context"
	"strings"
	"time"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
	"github.com/chathub/internal/registry"
)

const (
	// MaxRoomNameLength bounds room display names.
	MaxRoomNameLength = 128
	// DefaultRoomCapacity applies when a create request leaves capacity unset.
	DefaultRoomCapacity = 100
)

// Rooms is the room/membership service in front of the durable store. It
// validates, delegates the serialized mutations to the store and broadcasts
// membership events to subscribed connections.
type Rooms struct {
	reg     *registry.Registry
	members MembershipStore
	users   IdentityStore
}

func NewRooms(reg *registry.Registry, members MembershipStore, users IdentityStore) *Rooms {
	return &Rooms{reg: reg, members: members, users: users}
}

// Create makes a public or private room with the creator as admin. Direct
// rooms are only materialized by the resolver.
func (s *Rooms) Create(ctx context.Context, creator int64, name, description string, kind model.RoomKind, capacity int) (*model.Room, error) {
	defer logger.DeferLogDuration("rooms.Create", time.Now())()
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxRoomNameLength {
		return nil, ErrInvalidName
	}
	if kind == "" {
		kind = model.RoomKindPublic
	}
	if kind != model.RoomKindPublic && kind != model.RoomKindPrivate {
		return nil, &Error{Kind: KindInvalidName, Msg: "room kind must be public or private"}
	}
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}

	room := &model.Room{
		Kind:        kind,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   creator,
		Capacity:    capacity,
	}
	if err := s.members.Create(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Get returns the room if the requester is an active member.
func (s *Rooms) Get(ctx context.Context, identity, roomID int64) (*model.Room, error) {
	room, err := s.members.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomNotFound
	}
	if room.Kind != model.RoomKindPublic {
		ok, err := s.members.IsActiveMember(ctx, roomID, identity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotAMember
		}
	}
	return room, nil
}

// Join adds the identity to the room (idempotent; reactivates a prior
// membership) and tells the room's subscribers.
func (s *Rooms) Join(ctx context.Context, identity, roomID int64) (*model.Membership, error) {
	defer logger.DeferLogDuration("rooms.Join", time.Now())()
	m, err := s.members.Join(ctx, roomID, identity)
	if err != nil {
		return nil, err
	}

	username := ""
	if u, err := s.users.GetByID(ctx, identity); err == nil {
		username = u.Username
	}
	s.reg.Publish(roomID, Event{
		Type:    EventMemberJoined,
		Payload: MemberPayload{RoomID: roomID, UserID: identity, Username: username},
	}, identity)
	return m, nil
}

// Leave marks the membership inactive. Leaving a room you already left, or
// never joined, succeeds silently. Live connections of the identity are
// unsubscribed from the room.
func (s *Rooms) Leave(ctx context.Context, identity, roomID int64) error {
	defer logger.DeferLogDuration("rooms.Leave", time.Now())()
	if err := s.members.Leave(ctx, roomID, identity); err != nil {
		return err
	}
	s.reg.UnsubscribeIdentity(identity, roomID)

	username := ""
	if u, err := s.users.GetByID(ctx, identity); err == nil {
		username = u.Username
	}
	s.reg.Publish(roomID, Event{
		Type:    EventMemberLeft,
		Payload: MemberPayload{RoomID: roomID, UserID: identity, Username: username},
	}, identity)
	return nil
}

// Members lists active members in join order; requester must be a member.
func (s *Rooms) Members(ctx context.Context, identity, roomID int64) ([]model.Member, error) {
	ok, err := s.members.IsActiveMember(ctx, roomID, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAMember
	}
	return s.members.ListActiveMembers(ctx, roomID)
}

// RoomsOf lists the requester's active rooms.
func (s *Rooms) RoomsOf(ctx context.Context, identity int64) ([]model.Room, error) {
	return s.members.RoomsOf(ctx, identity)
}

// Update changes room metadata; admin only, direct rooms are frozen.
func (s *Rooms) Update(ctx context.Context, identity, roomID int64, name, description string, capacity int) (*model.Room, error) {
	defer logger.DeferLogDuration("rooms.Update", time.Now())()
	room, err := s.members.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomNotFound
	}
	if room.Kind == model.RoomKindDirect {
		return nil, ErrForbidden
	}
	if err := s.requireAdmin(ctx, identity, roomID); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxRoomNameLength {
		return nil, ErrInvalidName
	}
	if capacity <= 0 {
		capacity = room.Capacity
	}
	if err := s.members.Update(ctx, roomID, name, strings.TrimSpace(description), capacity); err != nil {
		return nil, err
	}
	room.Name = name
	room.Description = strings.TrimSpace(description)
	room.Capacity = capacity

	s.reg.Publish(roomID, Event{Type: EventRoomUpdated, Payload: RoomPayload{Room: room}}, 0)
	return room, nil
}

// Deactivate soft-deletes a room (history preserved); admin only.
func (s *Rooms) Deactivate(ctx context.Context, identity, roomID int64) error {
	defer logger.DeferLogDuration("rooms.Deactivate", time.Now())()
	room, err := s.members.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return nil
	}
	if err := s.requireAdmin(ctx, identity, roomID); err != nil {
		return err
	}
	if err := s.members.Deactivate(ctx, roomID); err != nil {
		return err
	}
	s.reg.Publish(roomID, Event{Type: EventRoomDeactivated, Payload: RoomPayload{Room: room}}, 0)
	return nil
}

// Invite records an invite for a private room so the invitee can pass the
// Join check later. Any active member may invite.
func (s *Rooms) Invite(ctx context.Context, inviter, roomID, invitee int64) error {
	defer logger.DeferLogDuration("rooms.Invite", time.Now())()
	room, err := s.members.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return ErrRoomNotFound
	}
	if room.Kind == model.RoomKindDirect {
		return ErrForbidden
	}
	ok, err := s.members.IsActiveMember(ctx, roomID, inviter)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAMember
	}
	if _, err := s.users.GetByID(ctx, invitee); err != nil {
		return ErrInvalidPair
	}
	return s.members.Invite(ctx, roomID, invitee)
}

func (s *Rooms) requireAdmin(ctx context.Context, identity, roomID int64) error {
	role, err := s.members.MemberRole(ctx, roomID, identity)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
