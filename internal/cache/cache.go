// Package cache stores encoded processing results keyed by the identity of
// the work that produced them: source object plus transformation chain plus
// output encoding.
package cache

import (
	"context"
	"fmt"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// Key derives the storage key for a processed result. chainKey is the
// hashable identifier of the transformation chain; format and quality are
// part of the key because they change the encoded bytes even when the chain
// does not.
func Key(objectKey string, chainKey uint64, format string, quality int) string {
	return fmt.Sprintf("%s|%016x|%s|q%d", objectKey, chainKey, format, quality)
}
