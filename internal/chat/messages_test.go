package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chathub/internal/model"
	"github.com/chathub/internal/registry"
	"github.com/chathub/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messagesFixture struct {
	svc      *Messages
	rooms    *Rooms
	store    *fakeStore
	reg      *registry.Registry
	notifier *fakeNotifier
}

func newMessagesFixture(t *testing.T) *messagesFixture {
	t.Helper()
	store := newFakeStore()
	store.addUser(1, "alice")
	store.addUser(2, "bob")
	store.addUser(3, "carol")
	reg := registry.New(100, nil)
	notifier := &fakeNotifier{}
	cache := memory.New(50, 10*time.Minute)
	svc := NewMessages(reg, fakeMessages{store}, store, store, fakeUsers{store}, cache, notifier)
	return &messagesFixture{
		svc:      svc,
		rooms:    NewRooms(reg, store, fakeUsers{store}),
		store:    store,
		reg:      reg,
		notifier: notifier,
	}
}

// room with alice (admin) and bob, bob subscribed through sink.
func (f *messagesFixture) seedRoom(t *testing.T) (int64, *captureSink) {
	t.Helper()
	ctx := context.Background()
	room, err := f.rooms.Create(ctx, 1, "general", "", model.RoomKindPublic, 10)
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, 2, room.ID)
	require.NoError(t, err)

	sink := &captureSink{}
	connID, err := f.reg.Admit(2, sink)
	require.NoError(t, err)
	require.NoError(t, f.reg.Subscribe(connID, room.ID))
	return room.ID, sink
}

func TestSendValidation(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, 1, roomID, "   ", "", nil)
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = f.svc.Send(ctx, 1, roomID, strings.Repeat("a", MaxContentLength+1), "", nil)
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = f.svc.Send(ctx, 3, roomID, "hi", "", nil)
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = f.svc.Send(ctx, 1, 99, "hi", "", nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSendPersistsThenBroadcasts(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, sink := f.seedRoom(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, 1, roomID, "hello", "", nil)
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, model.MessageKindText, msg.Kind)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventMessageNew, events[0].Type)
	got := events[0].Payload.(*model.Message)
	assert.Equal(t, msg.ID, got.ID)

	// Persisted even for receivers that were offline.
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
}

func TestSendEchoesToSender(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t)
	ctx := context.Background()

	senderSink := &captureSink{}
	connID, err := f.reg.Admit(1, senderSink)
	require.NoError(t, err)
	require.NoError(t, f.reg.Subscribe(connID, roomID))

	_, err = f.svc.Send(ctx, 1, roomID, "hello", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventMessageNew}, senderSink.types())
}

func TestSendOrderingPerConnection(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, sink := f.seedRoom(t)
	ctx := context.Background()

	const senders = 8
	const perSender = 20
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := f.svc.Send(ctx, 1, roomID, "m", "", nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := sink.all()
	require.Len(t, events, senders*perSender)
	last := int64(0)
	for _, e := range events {
		m := e.Payload.(*model.Message)
		assert.Greater(t, m.ID, last, "ids must arrive in increasing order")
		last = m.ID
	}
}

func TestReplyMustTargetSameRoom(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t)
	ctx := context.Background()

	other, err := f.rooms.Create(ctx, 1, "other", "", model.RoomKindPublic, 10)
	require.NoError(t, err)
	foreign, err := f.svc.Send(ctx, 1, other.ID, "elsewhere", "", nil)
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, 1, roomID, "reply", "", &foreign.ID)
	assert.ErrorIs(t, err, ErrInvalidReply)

	local, err := f.svc.Send(ctx, 1, roomID, "parent", "", nil)
	require.NoError(t, err)
	reply, err := f.svc.Send(ctx, 1, roomID, "child", "", &local.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, local.ID, *reply.ReplyToID)
}

func TestEditOwnMessageOnly(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, sink := f.seedRoom(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, 1, roomID, "original", "", nil)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, 2, msg.ID, "hacked")
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := f.svc.Edit(ctx, 1, msg.ID, "fixed")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "fixed", edited.Content)

	types := sink.types()
	assert.Equal(t, []EventType{EventMessageNew, EventMessageEdited}, types)
}

func TestDeleteSoftAndAdminOverride(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, sink := f.seedRoom(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, 2, roomID, "from bob", "", nil)
	require.NoError(t, err)

	// carol is not even a member
	err = f.svc.Delete(ctx, 3, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// alice is room admin and may delete bob's message
	require.NoError(t, f.svc.Delete(ctx, 1, msg.ID))

	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Empty(t, stored.Content)

	// Deleting again is a no-op, no extra event.
	require.NoError(t, f.svc.Delete(ctx, 1, msg.ID))
	assert.Equal(t, []EventType{EventMessageNew, EventMessageDeleted}, sink.types())

	// Deleted messages cannot be edited.
	_, err = f.svc.Edit(ctx, 2, msg.ID, "resurrect")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReactToggle(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, sink := f.seedRoom(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, 1, roomID, "react to me", "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.React(ctx, 2, msg.ID, "👍", true))
	// Duplicate add changes nothing and stays silent on the wire.
	require.NoError(t, f.svc.React(ctx, 2, msg.ID, "👍", true))
	require.NoError(t, f.svc.React(ctx, 2, msg.ID, "👍", false))
	require.NoError(t, f.svc.React(ctx, 2, msg.ID, "👍", false))

	assert.Equal(t, []EventType{EventMessageNew, EventReactionAdded, EventReactionRemoved}, sink.types())

	err = f.svc.React(ctx, 3, msg.ID, "👍", true)
	assert.ErrorIs(t, err, ErrNotAMember)
	err = f.svc.React(ctx, 2, 999, "👍", true)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestTypingExcludesSenderAndSkipsStorage(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, bobSink := f.seedRoom(t)

	aliceSink := &captureSink{}
	connID, err := f.reg.Admit(1, aliceSink)
	require.NoError(t, err)
	require.NoError(t, f.reg.Subscribe(connID, roomID))

	f.svc.Typing(1, roomID, true)
	f.svc.Typing(1, roomID, false)

	assert.Equal(t, []EventType{EventTypingStart, EventTypingStop}, bobSink.types())
	assert.Empty(t, aliceSink.types(), "sender must not receive own typing events")
}

func TestRecentCacheMissBackfills(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t)
	ctx := context.Background()

	var want []int64
	for i := 0; i < 5; i++ {
		m, err := f.svc.Send(ctx, 1, roomID, "msg", "", nil)
		require.NoError(t, err)
		want = append(want, m.ID)
	}

	// Cache-backed path.
	got, err := f.svc.Recent(ctx, 2, roomID, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, want[i], m.ID, "oldest first")
	}

	// Drop the cache: durable storage must backfill transparently.
	fresh := NewMessages(f.reg, fakeMessages{f.store}, f.store, f.store, fakeUsers{f.store}, memory.New(50, time.Minute), nil)
	got, err = fresh.Recent(ctx, 2, roomID, 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, want[0], got[0].ID)

	_, err = f.svc.Recent(ctx, 3, roomID, 10)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestBackfillPagesBeforeID(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 6; i++ {
		m, err := f.svc.Send(ctx, 1, roomID, "msg", "", nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	page, err := f.svc.Backfill(ctx, 2, roomID, ids[3], 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	_, err = f.svc.Backfill(ctx, 3, roomID, 0, 10)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestOfflineMembersGetPush(t *testing.T) {
	f := newMessagesFixture(t)
	roomID, _ := f.seedRoom(t) // bob online via sink
	ctx := context.Background()

	_, err := f.rooms.Join(ctx, 3, roomID)
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, 1, roomID, "ping", "", nil)
	require.NoError(t, err)

	// Notify runs on a goroutine after the send returns.
	require.Eventually(t, func() bool {
		return len(f.notifier.notified()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int64{3}, f.notifier.notified(), "only offline non-senders")
}
