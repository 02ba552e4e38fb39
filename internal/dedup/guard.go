package dedup

import (
	"context"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Guard suppresses repeated processing of the same key within a window.
// It is an optimization; durable ledger state remains the source of truth.
type Guard interface {
	// TryAcquire returns true when key was not held, and holds it for ttl.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) bool
	// Release drops a held key so the next delivery is processed again.
	Release(ctx context.Context, key string)
}

// Key derives the guard key for crediting a payment.
func Key(paymentID uint64) string {
	sum := blake2b.Sum256([]byte("credit:" + strconv.FormatUint(paymentID, 10)))
	return hex.EncodeToString(sum[:])
}
