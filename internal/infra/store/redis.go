package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lavabox/internal/infra/config"
)

const (
	pingTimeout   = 5 * time.Second
	updateRetries = 5
)

// Redis stores each document as a JSON string under prefix:kind:id.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}

	zlog.Info().Msgf("store: connected to redis: addr=%s db=%d", cfg.Addr, cfg.DB)
	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Key returns the redis key holding a document.
func (r *Redis) Key(id string, kind Kind) string {
	if r.prefix == "" {
		return string(kind) + ":" + id
	}
	return r.prefix + ":" + string(kind) + ":" + id
}

func (r *Redis) Get(ctx context.Context, id string, kind Kind) (map[string]any, error) {
	if err := check(id, kind); err != nil {
		return nil, err
	}
	return r.read(ctx, r.client, r.Key(id, kind))
}

func (r *Redis) read(ctx context.Context, c redis.Cmdable, key string) (map[string]any, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", key)
	}
	return doc, nil
}

// Update merges data into the document inside an optimistic transaction.
func (r *Redis) Update(ctx context.Context, id string, kind Kind, data map[string]any) error {
	if err := check(id, kind); err != nil {
		return err
	}
	key := r.Key(id, kind)

	txf := func(tx *redis.Tx) error {
		doc, err := r.read(ctx, tx, key)
		if err != nil {
			return err
		}
		merge(doc, data)
		raw, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s", key)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to update %s", key)
		}
		return nil
	}
	return errors.Newf("failed to update %s: too much contention", key)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
