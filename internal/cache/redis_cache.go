package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

const sessionKeyPrefix = "tacshop:session:"

type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(addr string, password string, db int, ttl time.Duration) *RedisSessionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSessionStoreWithClient(client, ttl)
}

func NewRedisSessionStoreWithClient(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (c *RedisSessionStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSessionStore) Close() error {
	return c.client.Close()
}

func (c *RedisSessionStore) Load(ctx context.Context, id string) (*domain.SessionSnapshot, bool, error) {
	val, err := c.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap domain.SessionSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &snap, true, nil
}

// Save writes the snapshot and refreshes its expiry.
func (c *RedisSessionStore) Save(ctx context.Context, snapshot domain.SessionSnapshot) error {
	if snapshot.ID == "" {
		return errors.New("session snapshot without id")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(snapshot.ID), payload, c.ttl).Err()
}

func (c *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, sessionKey(id)).Err()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
