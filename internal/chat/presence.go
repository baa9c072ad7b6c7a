package chat

import (
	"context"
	"time"

	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
	"github.com/chathub/internal/registry"
)

// Presence answers "who is online in room R" and broadcasts transitions.
// It is derived state: the registry's live identities intersected with the
// room's active members, recomputed on demand and never stored durably.
type Presence struct {
	reg     *registry.Registry
	members MembershipStore
}

func NewPresence(reg *registry.Registry, members MembershipStore) *Presence {
	return &Presence{reg: reg, members: members}
}

// OnlineIn returns the identities with at least one live connection among
// the room's active members. Presence never reports a non-member as online.
func (p *Presence) OnlineIn(ctx context.Context, roomID int64) ([]model.User, error) {
	defer logger.DeferLogDuration("presence.OnlineIn", time.Now())()
	members, err := p.members.ListActiveMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	live := p.reg.OnlineIdentities()
	online := make([]model.User, 0, len(members))
	for _, m := range members {
		if _, ok := live[m.User.ID]; ok {
			online = append(online, m.User)
		}
	}
	return online, nil
}

// HandleTransition is wired as the registry's transition callback. It stamps
// last-seen on the way offline and notifies the identity's rooms. Delivery
// is fire-and-forget: failures are logged and swallowed.
func (p *Presence) HandleTransition(identity int64, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !online {
		if err := p.members.UpdateLastSeen(ctx, identity, time.Now().UTC()); err != nil {
			logger.Errorf("presence last seen user=%d: %v", identity, err)
		}
	}

	rooms, err := p.members.RoomsOf(ctx, identity)
	if err != nil {
		logger.Errorf("presence rooms of user=%d: %v", identity, err)
		return
	}

	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	ev := Event{Type: evType, Payload: PresencePayload{UserID: identity, Online: online}}
	for _, room := range rooms {
		p.reg.Publish(room.ID, ev, identity)
	}
}
