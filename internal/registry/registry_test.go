package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSink records delivered events; refuse makes Deliver return false to
// trigger the slow-consumer policy.
type testSink struct {
	mu     sync.Mutex
	events []any
	refuse bool
	closed bool
}

func (s *testSink) Deliver(ev any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *testSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *testSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestAdmitRejectsInvalidIdentity(t *testing.T) {
	r := New(10, nil)
	_, err := r.Admit(0, &testSink{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = r.Admit(-3, &testSink{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAdmitConnectionLimit(t *testing.T) {
	r := New(2, nil)
	_, err := r.Admit(1, &testSink{})
	require.NoError(t, err)
	_, err = r.Admit(2, &testSink{})
	require.NoError(t, err)
	_, err = r.Admit(3, &testSink{})
	assert.ErrorIs(t, err, ErrConnectionLimit)
}

func TestOnlineTransitions(t *testing.T) {
	type transition struct {
		identity int64
		online   bool
	}
	var mu sync.Mutex
	var got []transition
	r := New(10, func(identity int64, online bool) {
		mu.Lock()
		got = append(got, transition{identity, online})
		mu.Unlock()
	})

	id1, err := r.Admit(7, &testSink{})
	require.NoError(t, err)
	id2, err := r.Admit(7, &testSink{})
	require.NoError(t, err)
	assert.True(t, r.IsOnline(7))

	// Second connection of the same identity must not re-fire online.
	mu.Lock()
	assert.Equal(t, []transition{{7, true}}, got)
	mu.Unlock()

	r.Remove(id1)
	assert.True(t, r.IsOnline(7), "still one live connection")
	r.Remove(id2)
	assert.False(t, r.IsOnline(7))

	mu.Lock()
	assert.Equal(t, []transition{{7, true}, {7, false}}, got)
	mu.Unlock()
}

func TestRemoveIsIdempotent(t *testing.T) {
	fired := 0
	r := New(10, func(int64, bool) { fired++ })
	id, err := r.Admit(1, &testSink{})
	require.NoError(t, err)
	r.Remove(id)
	r.Remove(id)
	assert.Equal(t, 2, fired, "one online, one offline")
}

func TestSubscribeUnknownConnection(t *testing.T) {
	r := New(10, nil)
	err := r.Subscribe(ConnectionID("nope"), 1)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestPublishReachesSubscribersOnly(t *testing.T) {
	r := New(10, nil)
	inRoom := &testSink{}
	outOfRoom := &testSink{}
	id1, err := r.Admit(1, inRoom)
	require.NoError(t, err)
	_, err = r.Admit(2, outOfRoom)
	require.NoError(t, err)
	require.NoError(t, r.Subscribe(id1, 42))

	r.Publish(42, "hello", 0)
	assert.Equal(t, 1, inRoom.count())
	assert.Equal(t, 0, outOfRoom.count())
}

func TestPublishExcludesIdentity(t *testing.T) {
	r := New(10, nil)
	sender := &testSink{}
	other := &testSink{}
	idSender, err := r.Admit(1, sender)
	require.NoError(t, err)
	idOther, err := r.Admit(2, other)
	require.NoError(t, err)
	require.NoError(t, r.Subscribe(idSender, 5))
	require.NoError(t, r.Subscribe(idOther, 5))

	r.Publish(5, "typing", 1)
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, 1, other.count())
}

func TestPublishDropsRefusingSink(t *testing.T) {
	r := New(10, nil)
	slow := &testSink{refuse: true}
	id, err := r.Admit(1, slow)
	require.NoError(t, err)
	require.NoError(t, r.Subscribe(id, 9))

	r.Publish(9, "x", 0)
	assert.True(t, slow.isClosed())
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsOnline(1))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := New(10, nil)
	s := &testSink{}
	id, err := r.Admit(1, s)
	require.NoError(t, err)
	require.NoError(t, r.Subscribe(id, 3))
	require.NoError(t, r.Subscribe(id, 3))

	r.Publish(3, "once", 0)
	assert.Equal(t, 1, s.count(), "double subscribe must not double deliver")
	assert.Equal(t, []int64{3}, r.Rooms(id))
}

func TestUnsubscribeIdentity(t *testing.T) {
	r := New(10, nil)
	a := &testSink{}
	b := &testSink{}
	idA, err := r.Admit(1, a)
	require.NoError(t, err)
	idB, err := r.Admit(1, b)
	require.NoError(t, err)
	require.NoError(t, r.Subscribe(idA, 4))
	require.NoError(t, r.Subscribe(idB, 4))

	r.UnsubscribeIdentity(1, 4)
	r.Publish(4, "gone", 0)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 0, b.count())
}

func TestDeliverIdentityHitsAllConnections(t *testing.T) {
	r := New(10, nil)
	a := &testSink{}
	b := &testSink{}
	_, err := r.Admit(8, a)
	require.NoError(t, err)
	_, err = r.Admit(8, b)
	require.NoError(t, err)

	r.DeliverIdentity(8, "direct")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestShutdownClosesEverything(t *testing.T) {
	r := New(10, nil)
	s1 := &testSink{}
	s2 := &testSink{}
	_, err := r.Admit(1, s1)
	require.NoError(t, err)
	_, err = r.Admit(2, s2)
	require.NoError(t, err)

	r.Shutdown()
	assert.True(t, s1.isClosed())
	assert.True(t, s2.isClosed())
	assert.Equal(t, 0, r.Len())
}
