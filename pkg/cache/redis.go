package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisValuePrefix = "cc:v:"
	redisTagPrefix   = "cc:t:"
	redisScanCount   = 500
)

// RedisStore is a TaggableStore backed by Redis. Items live under
// "cc:v:<key>"; every tag is a set "cc:t:<tag>" of the item keys carrying it.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Layer implements Store.
func (s *RedisStore) Layer() string {
	return "redis"
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, redisValuePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Has implements Store.
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, redisValuePrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, redisValuePrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// setTaggedScript writes an item and adds it to its tag sets. A tag set
// lives at least as long as its longest-lived member; a member without TTL
// makes the set persistent.
//
// KEYS[1] is the value key, KEYS[2:] the tag keys. ARGV[1] is the value,
// ARGV[2] the TTL in milliseconds (0 for none).
var setTaggedScript = redis.NewScript(`
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
end
for i = 2, #KEYS do
	local existed = redis.call('EXISTS', KEYS[i])
	redis.call('SADD', KEYS[i], KEYS[1])
	if ttl == 0 then
		redis.call('PERSIST', KEYS[i])
	else
		local current = redis.call('PTTL', KEYS[i])
		if existed == 0 or (current >= 0 and current < ttl) then
			redis.call('PEXPIRE', KEYS[i], ttl)
		end
	end
end
return 1
`)

// SetTagged implements TaggableStore. The item and its tag memberships are
// written atomically.
func (s *RedisStore) SetTagged(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	keys := make([]string, 0, len(tags)+1)
	keys = append(keys, redisValuePrefix+key)
	for _, tag := range tags {
		keys = append(keys, redisTagPrefix+tag)
	}

	var ms int64
	if ttl > 0 {
		ms = ttl.Milliseconds()
		if ms == 0 {
			ms = 1
		}
	}

	if err := setTaggedScript.Run(ctx, s.redis, keys, value, ms).Err(); err != nil {
		return fmt.Errorf("redis set tagged: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	valueKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		valueKeys = append(valueKeys, redisValuePrefix+key)
	}
	if err := s.redis.Del(ctx, valueKeys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear implements Store. Only keys written by this store are removed.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, "cc:*", redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// InvalidateTags implements TaggableStore.
func (s *RedisStore) InvalidateTags(ctx context.Context, tags ...string) error {
	tagKeys := make([]string, 0, len(tags))
	var valueKeys []string
	for _, tag := range tags {
		tagKey := redisTagPrefix + tag
		members, err := s.redis.SMembers(ctx, tagKey).Result()
		if err != nil {
			return fmt.Errorf("redis smembers: %w", err)
		}
		tagKeys = append(tagKeys, tagKey)
		valueKeys = append(valueKeys, members...)
	}

	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(valueKeys) > 0 {
			pipe.Del(ctx, valueKeys...)
		}
		pipe.Del(ctx, tagKeys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}
