// Package identity issues and remembers anonymous credentials. An identity
// id is stable for as long as its credential stays registered.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Froom3010/Froom/internal/store"
	"github.com/redis/go-redis/v9"
)

type credentialData struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisRegistry keeps credential hashes in Redis with a TTL matching the
// credential expiry.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

var _ store.CredentialRegistry = (*RedisRegistry)(nil)

func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRegistryWithClient(client), nil
}

func NewRedisRegistryWithClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "credential:"}
}

func (r *RedisRegistry) key(tokenHash string) string {
	return r.prefix + tokenHash
}

func (r *RedisRegistry) SaveCredential(ctx context.Context, tokenHash, uid string, expiresAt time.Time) error {
	payload, err := json.Marshal(credentialData{UID: uid, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save credential: already expired")
	}
	if err := r.client.Set(ctx, r.key(tokenHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (r *RedisRegistry) LookupCredential(ctx context.Context, tokenHash string) (string, error) {
	raw, err := r.client.Get(ctx, r.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup credential: %w", err)
	}
	var data credentialData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	return data.UID, nil
}

func (r *RedisRegistry) RevokeCredential(ctx context.Context, tokenHash string) error {
	if err := r.client.Del(ctx, r.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
