package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces checkpoint keys when none is configured.
const DefaultRedisPrefix = "stategraph"

// RedisConfig holds connection settings for NewRedisSaver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys; defaults to DefaultRedisPrefix.
	Prefix string
}

// RedisSaver persists checkpoints in Redis. Each thread keeps a sorted-set
// index of checkpoint IDs ordered by save sequence, with payloads stored
// as JSON strings.
type RedisSaver struct {
	client     *redis.Client
	prefix     string
	serializer Serializer
}

// NewRedisSaver connects to Redis and verifies the connection with a ping.
func NewRedisSaver(cfg RedisConfig) (*RedisSaver, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSaver{client: client, prefix: prefix, serializer: JSONSerializer{}}, nil
}

// NewRedisSaverFromClient wraps an existing client. The caller keeps
// ownership of the client's lifecycle.
func NewRedisSaverFromClient(client *redis.Client, prefix string) *RedisSaver {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSaver{client: client, prefix: prefix, serializer: JSONSerializer{}}
}

func (r *RedisSaver) payloadKey(threadID, checkpointID string) string {
	return fmt.Sprintf("%s:cp:%s:%s", r.prefix, threadID, checkpointID)
}

func (r *RedisSaver) indexKey(threadID string) string {
	return fmt.Sprintf("%s:threads:%s", r.prefix, threadID)
}

func (r *RedisSaver) seqKey(threadID string) string {
	return fmt.Sprintf("%s:seq:%s", r.prefix, threadID)
}

// Save implements Saver.
func (r *RedisSaver) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is required")
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}

	payload, err := r.serializer.Serialize(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	seq, err := r.client.Incr(ctx, r.seqKey(cp.ThreadID)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.payloadKey(cp.ThreadID, cp.CheckpointID), payload, 0)
	pipe.ZAdd(ctx, r.indexKey(cp.ThreadID), redis.Z{Score: float64(seq), Member: cp.CheckpointID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Saver.
func (r *RedisSaver) LoadLatest(ctx context.Context, threadID string) (*Checkpoint, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.Load(ctx, threadID, ids[0])
}

// Load implements Saver.
func (r *RedisSaver) Load(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	payload, err := r.client.Get(ctx, r.payloadKey(threadID, checkpointID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp, err := r.serializer.Deserialize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Saver.
func (r *RedisSaver) List(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(threadID), 0, end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread index: %w", err)
	}

	result := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := r.Load(ctx, threadID, id)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// Delete implements Saver.
func (r *RedisSaver) Delete(ctx context.Context, threadID string) error {
	ids, err := r.client.ZRange(ctx, r.indexKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read thread index: %w", err)
	}

	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, r.payloadKey(threadID, id))
	}
	keys = append(keys, r.indexKey(threadID), r.seqKey(threadID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisSaver) Close() error {
	return r.client.Close()
}
