package chat

import (
	"context"
	"errors"
	"time"

	"github.com/chathub/internal/logger"
)

// PairKey is the canonical lookup key for an unordered identity pair:
// always Lo < Hi, regardless of argument order.
type PairKey struct {
	Lo int64
	Hi int64
}

// CanonicalPair builds the PairKey for two identities.
func CanonicalPair(a, b int64) PairKey {
	if a < b {
		return PairKey{Lo: a, Hi: b}
	}
	return PairKey{Lo: b, Hi: a}
}

// DirectResolver maps an identity pair to its single direct room, creating
// it on first contact. Concurrent first contact from both parties is settled
// by the storage layer's unique constraint, not an in-process check.
type DirectResolver struct {
	store DirectStore
}

func NewDirectResolver(store DirectStore) *DirectResolver {
	return &DirectResolver{store: store}
}

// Resolve returns the room id for the pair (caller, other), in either
// argument order, creating the room atomically when it does not exist.
func (r *DirectResolver) Resolve(ctx context.Context, caller, other int64) (int64, error) {
	defer logger.DeferLogDuration("direct.Resolve", time.Now())()
	if caller <= 0 || other <= 0 || caller == other {
		return 0, ErrInvalidPair
	}
	key := CanonicalPair(caller, other)

	roomID, err := r.store.Lookup(ctx, key)
	if err != nil {
		return 0, err
	}
	if roomID != 0 {
		return roomID, nil
	}

	roomID, err = r.store.Create(ctx, key, caller)
	if errors.Is(err, ErrDuplicateRoom) {
		// Lost the creation race; the winner's room is the answer.
		return r.store.Lookup(ctx, key)
	}
	if err != nil {
		return 0, err
	}
	return roomID, nil
}
