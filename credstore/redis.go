package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// defaultRedisKey is where credentials live unless WithRedisKey overrides it.
const defaultRedisKey = "opsdeck:credentials"

// Redis persists credentials in a Redis key, for kiosk-style deployments
// where several console hosts share one operator session.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// compile-time check
var _ opsdeck.CredentialStore = (*Redis)(nil)

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithRedisKey sets the key the credentials are stored under.
func WithRedisKey(key string) RedisOption {
	return func(r *Redis) { r.key = key }
}

// WithRedisTTL expires stored credentials after d. Zero means no expiry;
// the session then lives until cleared or rejected by the server.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis creates a store on the Redis instance at addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("credstore: redis addr is required")
	}
	r := &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		key: defaultRedisKey,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Load reads the credential key, returning (nil, nil) when it is absent.
func (r *Redis) Load(ctx context.Context) (*opsdeck.Credentials, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: redis get failed: %w", err)
	}
	var creds opsdeck.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("credstore: corrupt credentials in redis: %w", err)
	}
	return &creds, nil
}

// Save writes the credential key, applying the configured TTL.
func (r *Redis) Save(ctx context.Context, creds *opsdeck.Credentials) error {
	if creds == nil {
		return fmt.Errorf("credstore: nil credentials")
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: failed to encode credentials: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("credstore: redis set failed: %w", err)
	}
	return nil
}

// Clear deletes the credential key. A missing key is not an error.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("credstore: redis del failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
