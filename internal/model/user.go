package model

import "time"

// User is an authenticated identity. Rows are owned by the identity service;
// the chat core only reads them.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}
