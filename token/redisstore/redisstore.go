package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hippocampus/sessionsync/token"
)

var _ token.Backend = (*Store)(nil)

const keySuffix = "tokens"

// Store keeps the token pair in a single redis hash so that contexts running in other
// processes share the same credentials. Both fields are written in one MULTI/EXEC.
type Store struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// New creates a redis backed token backend. The hash lives under "<prefix>:tokens" and
// expires after ttl (the refresh token lifetime); a zero ttl disables expiry.
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		key: fmt.Sprintf("%s:%s", prefix, keySuffix),
		ttl: ttl,
	}
}

// Key returns the redis key of the token hash.
func (s *Store) Key() string {
	return s.key
}

func (s *Store) Load(ctx context.Context) (token.Pair, error) {
	values, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return token.Pair{}, fmt.Errorf("[redisstore Load] HGETALL %s: %w", s.key, err)
	}
	return token.Pair{
		AccessToken:  values[token.AccessTokenKey],
		RefreshToken: values[token.RefreshTokenKey],
	}, nil
}

func (s *Store) Save(ctx context.Context, pair token.Pair) error {
	fields := map[string]any{token.AccessTokenKey: pair.AccessToken}
	if pair.RefreshToken != "" {
		fields[token.RefreshTokenKey] = pair.RefreshToken
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisstore Save] MULTI %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("[redisstore Delete] DEL %s: %w", s.key, err)
	}
	return nil
}
