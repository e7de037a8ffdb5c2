package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-slot store keyed by string. Set replaces the whole value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that do not drop expired keys on their own.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// TTLStore is implemented by stores that can expire keys.
type TTLStore interface {
	Store
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
