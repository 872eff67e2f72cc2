package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

const (
	processedKeyPrefix = "ghiblify_processed_tx:"
	defaultDedupTTL    = 24 * time.Hour
)

// dedupGuard remembers transaction hashes that already granted credits,
// so a replayed hash cannot be redeemed twice.
type dedupGuard struct {
	store sessionstore.Store
	ttl   time.Duration
}

func newDedupGuard(store sessionstore.Store, ttl time.Duration) *dedupGuard {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &dedupGuard{store: store, ttl: ttl}
}

func (g *dedupGuard) key(txHash string) string {
	return processedKeyPrefix + strings.ToLower(txHash)
}

// seen reports whether txHash was already processed.
func (g *dedupGuard) seen(ctx context.Context, txHash string) (bool, error) {
	_, err := g.store.Get(ctx, g.key(txHash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sessionstore.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// mark records txHash as processed.
func (g *dedupGuard) mark(ctx context.Context, txHash string) error {
	return g.store.Set(ctx, g.key(txHash), []byte("1"), g.ttl)
}
