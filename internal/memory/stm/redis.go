package stm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is an alternative Store backend for multi-process deployments. It
// keeps the same lazy TTL/cap semantics as InMemory: each turn carries its
// own timestamp and expired ones are filtered on access, with the key TTL
// acting as a backstop for buckets nobody ever touches again.
type Redis struct {
	client *redis.Client
	limits Limits
	now    func() time.Time
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client, limits Limits) *Redis {
	return &Redis{client: client, limits: limits, now: time.Now}
}

func redisKey(userID, scope string) string {
	return fmt.Sprintf("stm:%s", bucketKey(userID, scope))
}

func (s *Redis) Add(ctx context.Context, userID, scope string, turn Turn) error {
	key := redisKey(userID, scope)

	data, err := json.Marshal(NormalizeTurn(turn, s.now()))
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.limits.capFor(scope)), -1)
	pipe.Expire(ctx, key, s.limits.TTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Redis) Get(ctx context.Context, userID, scope string) ([]Turn, error) {
	key := redisKey(userID, scope)

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	t := s.now()
	out := make([]Turn, 0, len(raw))
	expired := 0
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			expired++ // unparsable entries are treated as absent
			continue
		}
		if t.Sub(turn.TS) > s.limits.TTL {
			expired++
			continue
		}
		out = append(out, turn)
	}

	// Rewrite the list when expiry changed it, so the cap keeps counting
	// live items only.
	if expired > 0 {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		for _, turn := range out {
			data, err := json.Marshal(turn)
			if err != nil {
				continue
			}
			pipe.RPush(ctx, key, data)
		}
		if len(out) > 0 {
			pipe.Expire(ctx, key, s.limits.TTL)
		}
		_, _ = pipe.Exec(ctx)
	}
	return out, nil
}

func (s *Redis) Clear(ctx context.Context, userID, scope string) error {
	return s.client.Del(ctx, redisKey(userID, scope)).Err()
}

func (s *Redis) CleanupAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, "stm:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// reading through Get-style filtering rewrites expired buckets
		raw, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			continue
		}
		t := s.now()
		live := make([]interface{}, 0, len(raw))
		for _, item := range raw {
			var turn Turn
			if err := json.Unmarshal([]byte(item), &turn); err != nil {
				continue
			}
			if t.Sub(turn.TS) <= s.limits.TTL {
				live = append(live, item)
			}
		}
		if len(live) == len(raw) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		if len(live) > 0 {
			pipe.RPush(ctx, key, live...)
			pipe.Expire(ctx, key, s.limits.TTL)
		}
		_, _ = pipe.Exec(ctx)
	}
	return iter.Err()
}
