package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/chathub/internal/model"
)

var errUnknownUser = errors.New("unknown user")

// fakeStore is an in-memory implementation of the store interfaces, honoring
// the same contracts as the pgx repositories (capacity serialization,
// idempotent leave, unique direct pairs).
type fakeStore struct {
	mu          sync.Mutex
	rooms       map[int64]*model.Room
	nextRoomID  int64
	memberships map[int64]map[int64]*model.Membership
	users       map[int64]*model.User
	messages    map[int64]*model.Message
	nextMsgID   int64
	reactions   map[int64]map[int64]map[string]bool
	directs     map[PairKey]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:       make(map[int64]*model.Room),
		memberships: make(map[int64]map[int64]*model.Membership),
		users:       make(map[int64]*model.User),
		messages:    make(map[int64]*model.Message),
		reactions:   make(map[int64]map[int64]map[string]bool),
		directs:     make(map[PairKey]int64),
	}
}

func (f *fakeStore) addUser(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &model.User{ID: id, Username: name}
}

func (f *fakeStore) Create(ctx context.Context, room *model.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRoomID++
	room.ID = f.nextRoomID
	room.IsActive = true
	room.CreatedAt = time.Now().UTC()
	cp := *room
	f.rooms[room.ID] = &cp
	f.memberships[room.ID] = map[int64]*model.Membership{
		room.CreatedBy: {
			RoomID:   room.ID,
			UserID:   room.CreatedBy,
			Role:     model.RoleAdmin,
			IsActive: true,
			JoinedAt: time.Now().UTC(),
		},
	}
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeStore) Update(ctx context.Context, id int64, name, description string, capacity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.Name = name
	room.Description = description
	room.Capacity = capacity
	return nil
}

func (f *fakeStore) Deactivate(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	room.IsActive = false
	return nil
}

func (f *fakeStore) Join(ctx context.Context, roomID, userID int64) (*model.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok || !room.IsActive {
		return nil, ErrRoomNotFound
	}
	members := f.memberships[roomID]
	if m, ok := members[userID]; ok && m.IsActive {
		cp := *m
		return &cp, nil
	}
	if room.Kind != model.RoomKindPublic {
		if _, invited := members[userID]; !invited {
			return nil, ErrPrivateRoomDenied
		}
	}
	active := 0
	for _, m := range members {
		if m.IsActive {
			active++
		}
	}
	if active >= room.Capacity {
		return nil, ErrRoomFull
	}
	m := &model.Membership{
		RoomID:   roomID,
		UserID:   userID,
		Role:     model.RoleMember,
		IsActive: true,
		JoinedAt: time.Now().UTC(),
	}
	if prev, ok := members[userID]; ok {
		m.Role = prev.Role
	}
	members[userID] = m
	cp := *m
	return &cp, nil
}

func (f *fakeStore) Leave(ctx context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.memberships[roomID][userID]; ok && m.IsActive {
		m.IsActive = false
		m.LastSeenAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeStore) ListActiveMembers(ctx context.Context, roomID int64) ([]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Member
	for uid, m := range f.memberships[roomID] {
		if !m.IsActive {
			continue
		}
		u := model.User{ID: uid}
		if user, ok := f.users[uid]; ok {
			u = *user
		}
		out = append(out, model.Member{User: u, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out, nil
}

func (f *fakeStore) ActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	members, err := f.ListActiveMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.User.ID)
	}
	return ids, nil
}

func (f *fakeStore) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[roomID][userID]
	return ok && m.IsActive, nil
}

func (f *fakeStore) MemberRole(ctx context.Context, roomID, userID int64) (model.MemberRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[roomID][userID]
	if !ok || !m.IsActive {
		return "", ErrNotAMember
	}
	return m.Role, nil
}

func (f *fakeStore) RoomsOf(ctx context.Context, userID int64) ([]model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Room
	for roomID, members := range f.memberships {
		if m, ok := members[userID]; ok && m.IsActive {
			if room := f.rooms[roomID]; room != nil && room.IsActive {
				out = append(out, *room)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateLastSeen(ctx context.Context, userID int64, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, members := range f.memberships {
		if m, ok := members[userID]; ok && m.IsActive {
			m.LastSeenAt = t
		}
	}
	return nil
}

func (f *fakeStore) Invite(ctx context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.memberships[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, exists := members[userID]; !exists {
		members[userID] = &model.Membership{RoomID: roomID, UserID: userID, Role: model.RoleMember}
	}
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgID++
	m.ID = f.nextMsgID
	m.CreatedAt = time.Now().UTC()
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.RoomID != roomID {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) UpdateContent(ctx context.Context, id int64, content string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &editedAt
	return nil
}

func (f *fakeStore) SoftDelete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	m.IsDeleted = true
	m.Content = ""
	return nil
}

func (f *fakeStore) Add(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byUser, ok := f.reactions[messageID]
	if !ok {
		byUser = make(map[int64]map[string]bool)
		f.reactions[messageID] = byUser
	}
	emojis, ok := byUser[userID]
	if !ok {
		emojis = make(map[string]bool)
		byUser[userID] = emojis
	}
	if emojis[emoji] {
		return false, nil
	}
	emojis[emoji] = true
	return true, nil
}

func (f *fakeStore) Remove(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[messageID][userID][emoji] {
		delete(f.reactions[messageID][userID], emoji)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ListForMessage(ctx context.Context, messageID int64) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Reaction
	for uid, emojis := range f.reactions[messageID] {
		for emoji := range emojis {
			out = append(out, model.Reaction{MessageID: messageID, UserID: uid, Emoji: emoji})
		}
	}
	return out, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errUnknownUser
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) Lookup(ctx context.Context, key PairKey) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.directs[key], nil
}

func (f *fakeStore) CreateDirect(ctx context.Context, key PairKey, createdBy int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.directs[key]; exists {
		return 0, ErrDuplicateRoom
	}
	f.nextRoomID++
	id := f.nextRoomID
	f.rooms[id] = &model.Room{
		ID:        id,
		Kind:      model.RoomKindDirect,
		CreatedBy: createdBy,
		Capacity:  model.DirectRoomCapacity,
		IsActive:  true,
	}
	now := time.Now().UTC()
	f.memberships[id] = map[int64]*model.Membership{
		key.Lo: {RoomID: id, UserID: key.Lo, Role: model.RoleMember, IsActive: true, JoinedAt: now},
		key.Hi: {RoomID: id, UserID: key.Hi, Role: model.RoleMember, IsActive: true, JoinedAt: now},
	}
	f.directs[key] = id
	return id, nil
}

// Interface adapters: fakeStore implements every store with one state bag,
// the wrappers pin each narrow interface to the right methods.

type fakeMessages struct{ *fakeStore }

func (f fakeMessages) Create(ctx context.Context, m *model.Message) error {
	return f.CreateMessage(ctx, m)
}

func (f fakeMessages) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	return f.GetMessage(ctx, id)
}

type fakeUsers struct{ *fakeStore }

func (f fakeUsers) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return f.GetUser(ctx, id)
}

type fakeDirects struct{ *fakeStore }

func (f fakeDirects) Create(ctx context.Context, key PairKey, createdBy int64) (int64, error) {
	return f.CreateDirect(ctx, key, createdBy)
}

// captureSink records events delivered through the registry.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Deliver(ev any) bool {
	e, ok := ev.(Event)
	if !ok {
		return true
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return true
}

func (s *captureSink) Close() {}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *captureSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeNotifier records push notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []int64
}

func (n *fakeNotifier) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) {
	n.mu.Lock()
	n.calls = append(n.calls, userID)
	n.mu.Unlock()
}

func (n *fakeNotifier) notified() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int64, len(n.calls))
	copy(out, n.calls)
	return out
}
