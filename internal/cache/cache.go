package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Claim sets key only if it is absent. It reports whether this call
	// took the key, so concurrent claimants see exactly one winner.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
