package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "countdown:session:"

// RedisMirror stores sessions as JSON values that expire with the session TTL
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirrorFromClient creates a mirror on a shared client. The caller
// owns the connection.
func NewRedisMirrorFromClient(client *redis.Client) *RedisMirror {
	return &RedisMirror{
		client: client,
	}
}

// buildKey scopes a session ID under the mirror prefix
func buildKey(id string) string {
	// Clean key to remove any potential path separators
	return sessionKeyPrefix + strings.ReplaceAll(id, "/", "_")
}

// Save writes the session with an expiration of ttl, so Redis drops it at
// the same time the sweeper would
func (m *RedisMirror) Save(ctx context.Context, s Session, ttl time.Duration) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}

	key := buildKey(s.ID)
	if err := m.client.Set(ctx, key, body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", key, err)
	}

	return nil
}

// LoadAll returns every mirrored session. Undecodable values are skipped.
func (m *RedisMirror) LoadAll(ctx context.Context) ([]Session, error) {
	pattern := sessionKeyPrefix + "*"

	iter := m.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}

	sessions := make([]Session, 0, len(keys))
	for _, key := range keys {
		body, err := m.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				// Expired between scan and get
				continue
			}
			return nil, fmt.Errorf("failed to get key %s from Redis: %w", key, err)
		}

		var s Session
		if err := json.Unmarshal(body, &s); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}

	return sessions, nil
}
