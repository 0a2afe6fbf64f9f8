package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connTTL = 24 * time.Hour

// Store mirrors connection state into Redis so the CRUD side can answer
// "is this user online" without touching the coordinator.
//
// Keys:
//   - <prefix>:conn:<userID>      set of connection ids
//   - <prefix>:presence:<userID>  json {status,last_seen}
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *Store) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *Store) Connected(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	if err := s.client.SAdd(ctx, key, connID).Err(); err != nil {
		return err
	}
	_ = s.client.Expire(ctx, key, connTTL).Err()
	return s.setPresence(ctx, userID, "online", connTTL)
}

func (s *Store) Disconnected(ctx context.Context, userID, connID string) error {
	key := s.connKey(userID)
	if err := s.client.SRem(ctx, key, connID).Err(); err != nil {
		return err
	}
	remaining, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if remaining == 0 {
		return s.setPresence(ctx, userID, "offline", 0)
	}
	return nil
}

func (s *Store) setPresence(ctx context.Context, userID, status string, ttl time.Duration) error {
	b, _ := json.Marshal(map[string]any{"status": status, "last_seen": time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, ttl).Err()
}
