// Package auth holds the API key model guarding the administrative surface.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned when a presented API key is unknown or inactive.
var ErrUnauthorized = errors.New("unauthorized")

// APIKey holds the identity and permission data for a validated API key.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants the named scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup and provisioning of API keys.
type Repository interface {
	// FindByHash looks up an active key by its HMAC-SHA256 hash.
	// Returns ErrUnauthorized when no matching active key exists.
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	// Upsert creates or replaces a key; used by the seeding command.
	Upsert(ctx context.Context, key *APIKey) error
}
