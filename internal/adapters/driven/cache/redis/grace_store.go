// Package redis keeps post-authorisation grace flags in Redis so that every
// ledgersync process sharing the instance sees a connection that has just
// been made, even before its own database read observes the new row.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
)

const keyPrefix = "ledgersync:grace:"

var _ driven.GraceStore = (*GraceStore)(nil)

// GraceStore implements driven.GraceStore with keys that expire on their own.
type GraceStore struct {
	client *goredis.Client
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewGraceStore connects to Redis and verifies the connection.
func NewGraceStore(ctx context.Context, opts Options) (*GraceStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &GraceStore{client: client}, nil
}

// NewGraceStoreFromClient wraps an existing client.
func NewGraceStoreFromClient(client *goredis.Client) *GraceStore {
	return &GraceStore{client: client}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Mark sets the flag with a TTL.
func (s *GraceStore) Mark(ctx context.Context, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(userID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("setting grace flag: %w", err)
	}
	return nil
}

// Active returns true while the key exists.
func (s *GraceStore) Active(ctx context.Context, userID string) (bool, error) {
	_, err := s.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading grace flag: %w", err)
	}
	return true, nil
}

// Clear removes the flag.
func (s *GraceStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("clearing grace flag: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *GraceStore) Close() error {
	return s.client.Close()
}
