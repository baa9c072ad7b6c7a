package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentBufferOldestFirstAndBounded(t *testing.T) {
	c := New(3, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.PushRecent(ctx, 7, []byte(fmt.Sprintf("m%d", i))))
	}

	got, err := c.GetRecent(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 3, "buffer keeps only the newest entries")
	assert.Equal(t, "m3", string(got[0]))
	assert.Equal(t, "m4", string(got[1]))
	assert.Equal(t, "m5", string(got[2]))
}

func TestRecentBufferIsPerRoom(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.PushRecent(ctx, 1, []byte("a")))
	require.NoError(t, c.PushRecent(ctx, 2, []byte("b")))

	got, err := c.GetRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", string(got[0]))
}

func TestInvalidateRecent(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.PushRecent(ctx, 1, []byte("a")))
	require.NoError(t, c.InvalidateRecent(ctx, 1))

	got, err := c.GetRecent(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got, "empty result signals a durable backfill")
}

func TestRecentBufferExpires(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.PushRecent(ctx, 1, []byte("a")))
	time.Sleep(20 * time.Millisecond)

	got, err := c.GetRecent(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIncrWithTTL(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	n, err := c.IncrWithTTL(ctx, "rl:u:1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrWithTTL(ctx, "rl:u:1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Independent keys count independently.
	n, err = c.IncrWithTTL(ctx, "rl:u:2", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The window resets the counter.
	time.Sleep(30 * time.Millisecond)
	n, err = c.IncrWithTTL(ctx, "rl:u:1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPushRecentCopiesPayload(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	payload := []byte("abc")
	require.NoError(t, c.PushRecent(ctx, 1, payload))
	payload[0] = 'x'

	got, err := c.GetRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", string(got[0]))
}
