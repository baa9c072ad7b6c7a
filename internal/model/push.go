package model

import "time"

// PushSubscription is a browser Web Push subscription for one identity.
type PushSubscription struct {
	UserID    int64     `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}
