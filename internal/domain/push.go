package domain

import "time"

// PushKeys holds the client public key material of a web-push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a browser push endpoint plus its routing metadata.
type PushSubscription struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	UserID    string    `json:"user_id"`
	PeerID    string    `json:"peer_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
