package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "stagecoach:checkpoint:"
	redisIndexKey  = "stagecoach:checkpoints"
	redisOpTimeout = 5 * time.Second
)

// RedisBackend persists checkpoints in Redis so multiple orchestrator
// instances can share one review queue. Each record is a JSON string
// under its own key plus an index set for listing.
type RedisBackend struct {
	client *redis.Client
}

// RedisOpts configures a RedisBackend.
type RedisOpts struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(opts RedisOpts) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisBackend{client: client}, nil
}

// Close releases the underlying connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Save(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+cp.ID, data, 0)
	pipe.SAdd(ctx, redisIndexKey, cp.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (b *RedisBackend) Get(id string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := b.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

func (b *RedisBackend) List() ([]*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var out []*Checkpoint
	for _, id := range ids {
		cp, err := b.Get(id)
		if err != nil {
			continue // index entry with no record, skip
		}
		out = append(out, cp)
	}
	sortByCreation(out)
	return out, nil
}

func (b *RedisBackend) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	del := pipe.Del(ctx, redisKeyPrefix+id)
	pipe.SRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	if del.Val() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}
