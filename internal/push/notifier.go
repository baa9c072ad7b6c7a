// Package push delivers Web Push notifications to a user's registered
// browser subscriptions.
package push

import (
	"context"
	"encoding/json"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/chathub/internal/logger"
	"github.com/chathub/internal/model"
)

// SubStore persists browser subscriptions. repository.PushRepository
// implements it.
type SubStore interface {
	Save(ctx context.Context, s *model.PushSubscription) error
	Delete(ctx context.Context, userID int64, endpoint string) error
	ListForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
}

// Notifier sends Web Push messages with VAPID. A nil Notifier, or one built
// without keys, is a no-op; delivery failures only log.
type Notifier struct {
	subs  SubStore
	vapid *webpush.Options
}

// NewNotifier returns nil when the key pair is missing so callers can pass
// it straight through as a disabled notifier.
func NewNotifier(subs SubStore, subscriber, vapidPublic, vapidPrivate string) *Notifier {
	if vapidPublic == "" || vapidPrivate == "" {
		return nil
	}
	return &Notifier{
		subs: subs,
		vapid: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             30,
		},
	}
}

// Notify pushes to every subscription of the user. Gone endpoints
// (404/410) are pruned.
func (n *Notifier) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) {
	if n == nil {
		return
	}
	subs, err := n.subs.ListForUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subs user=%d: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	if err != nil {
		logger.Errorf("push payload user=%d: %v", userID, err)
		return
	}

	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%d: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.subs.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune user=%d: %v", userID, err)
			}
		}
	}
}
