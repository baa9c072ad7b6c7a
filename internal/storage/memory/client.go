package memory

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n   int64
	exp time.Time
}

type buffer struct {
	items [][]byte // newest first
	exp   time.Time
}

// Client is the in-process Store used for -dev and tests.
type Client struct {
	mu        sync.RWMutex
	recent    map[int64]*buffer
	counters  map[string]*counter
	maxRecent int
	recentTTL time.Duration
}

func New(maxRecent int, recentTTL time.Duration) *Client {
	if maxRecent <= 0 {
		maxRecent = 50
	}
	if recentTTL <= 0 {
		recentTTL = 10 * time.Minute
	}
	return &Client{
		recent:    make(map[int64]*buffer),
		counters:  make(map[string]*counter),
		maxRecent: maxRecent,
		recentTTL: recentTTL,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) PushRecent(ctx context.Context, roomID int64, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.recent[roomID]
	if !ok || time.Now().After(b.exp) {
		b = &buffer{}
		c.recent[roomID] = b
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.items = append([][]byte{cp}, b.items...)
	if len(b.items) > c.maxRecent {
		b.items = b.items[:c.maxRecent]
	}
	b.exp = time.Now().Add(c.recentTTL)
	return nil
}

func (c *Client) GetRecent(ctx context.Context, roomID int64) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.recent[roomID]
	if !ok || time.Now().After(b.exp) {
		return nil, nil
	}
	out := make([][]byte, len(b.items))
	for i, it := range b.items {
		out[len(b.items)-1-i] = it
	}
	return out, nil
}

func (c *Client) InvalidateRecent(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.recent, roomID)
	return nil
}

func (c *Client) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	ct, ok := c.counters[key]
	if !ok || now.After(ct.exp) {
		ct = &counter{exp: now.Add(window)}
		c.counters[key] = ct
	}
	ct.n++
	return ct.n, nil
}
