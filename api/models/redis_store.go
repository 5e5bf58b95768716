package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	redis "github.com/redis/go-redis/v9"

	"github.com/moyoez/docdrop/types"
)

// RedisSessionStore shares upload sessions between server replicas. Each session is a
// JSON value under <prefix>:upload:<id> with a TTL; the <prefix>:uploads sorted set,
// scored by UpdatedAt, drives SweepExpired.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects and pings, failing fast on a bad address.
func NewRedisClient(cfg types.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "docdrop"
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionStore) key(uploadId string) string {
	return r.prefix + ":upload:" + uploadId
}

func (r *RedisSessionStore) indexKey() string {
	return r.prefix + ":uploads"
}

func (r *RedisSessionStore) Get(ctx context.Context, uploadId string) (*types.UploadSession, error) {
	raw, err := r.client.Get(ctx, r.key(uploadId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, uploadId)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var s types.UploadSession
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", uploadId, err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Put(ctx context.Context, session *types.UploadSession) error {
	raw, err := sonic.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(session.UploadId), raw, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(session.UpdatedAt.UnixMilli()),
			Member: session.UploadId,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, uploadId string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(uploadId))
		pipe.ZRem(ctx, r.indexKey(), uploadId)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) SweepExpired(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan expired sessions: %w", err)
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
