package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
)

//go:generate mockgen -destination=../../mocks/store.go -package=mocks -mock_names=Store=SessionStore github.com/openev/carwings/pkg/cache Store

// Store persists session records.
type Store interface {
	// Load returns the record saved under key. The boolean is false on a miss. Implementations
	// treat unreadable or corrupt records as misses rather than errors.
	Load(ctx context.Context, key string) (Record, bool, error)
	// Save stores r under key, replacing any previous record.
	Save(ctx context.Context, key string, r Record) error
	// Remove deletes the record saved under key. Removing a missing record is not an error.
	Remove(ctx context.Context, key string) error
}

// KeyFor derives the store key for a username. The username is hashed so that it does not appear
// in file names.
func KeyFor(username string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(username)))
	return hex.EncodeToString(sum[:])
}
