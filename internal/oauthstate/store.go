// Package oauthstate issues and checks the one-time state values that tie a
// federated sign-in callback to the request that started it.
package oauthstate

import (
	"context"
	"time"
)

// Entry is what the store remembers about an issued state value.
type Entry struct {
	CreatedAt time.Time `json:"created_at"`
	Origin    string    `json:"origin"`
}

// StateStore persists state entries. Delete reports whether the entry was
// present, which lets concurrent validations agree on a single winner.
type StateStore interface {
	Set(ctx context.Context, state string, entry Entry, ttl time.Duration) error
	Get(ctx context.Context, state string) (Entry, bool, error)
	Delete(ctx context.Context, state string) (bool, error)
	// Sweep drops expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
