package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrValueTooLarge = errors.New("value exceeds store limit")
)

// Store is a string key/value store with a per-value size ceiling.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// MaxValueSize is the largest value in bytes Set accepts.
	MaxValueSize() int
	Close() error
}

// Open picks a store implementation from url:
//
//	""  or "memory:"           in-process map
//	"postgres://..."           PostgreSQL via pgx
//	"sqlite:path" or a path    SQLite file
func Open(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "" || url == "memory:" || url == "memory":
		return NewMemoryStore(DefaultMemoryMaxValue), nil
	case strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite:"):
		return NewSQLiteStore(strings.TrimPrefix(url, "sqlite:"))
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported store url %q", url)
	default:
		return NewSQLiteStore(url)
	}
}
