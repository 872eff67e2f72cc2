// Package sessionstore provides a key-value store with TTL semantics used
// to persist wallet session state, auth sessions and network preferences.
package sessionstore

import (
	"context"
	"errors"
	"time"
)

// Well-known keys. Values are JSON-serialized by callers.
const (
	KeyWalletState       = "ghiblify_wallet_state"
	KeyAuthSession       = "ghiblify_auth"
	KeyNetworkPreference = "ghiblify_network_preference"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("sessionstore: key not found")

// Store is a TTL-aware key-value store. A zero ttl means the entry does
// not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
