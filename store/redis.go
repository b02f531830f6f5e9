package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	errs "github.com/stategraph-go/stategraph/errors"
)

// DefaultRedisPrefix namespaces store keys when none is configured.
const DefaultRedisPrefix = "stategraph"

// RedisConfig holds connection settings for NewRedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys; defaults to DefaultRedisPrefix.
	Prefix string
}

// RedisStore is a Store backed by Redis. Items live as JSON strings with
// their TTL delegated to Redis key expiry; each namespace keeps a set index
// of its keys, pruned lazily as expired members turn up on reads.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &errs.StoreError{Op: "connect", Err: err}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client's lifecycle.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) itemKey(namespace []string, key string) string {
	return fmt.Sprintf("%s:kv:%s:%s", r.prefix, nsKey(namespace), key)
}

func (r *RedisStore) indexKey(namespace []string) string {
	return fmt.Sprintf("%s:kvidx:%s", r.prefix, nsKey(namespace))
}

func (r *RedisStore) namespacesKey() string {
	return fmt.Sprintf("%s:kvns", r.prefix)
}

func (r *RedisStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	payload, err := r.client.Get(ctx, r.itemKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StoreError{Op: "get", Err: err}
	}

	var item Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, &errs.StoreError{Op: "get", Err: err}
	}
	return &item, nil
}

func (r *RedisStore) Put(ctx context.Context, namespace []string, key string, value map[string]interface{}) error {
	return r.PutWithTTL(ctx, namespace, key, value, 0)
}

func (r *RedisStore) PutWithTTL(ctx context.Context, namespace []string, key string, value map[string]interface{}, ttl time.Duration) error {
	now := time.Now().UTC()
	item := &Item{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, err := r.Get(ctx, namespace, key); err == nil && prev != nil {
		item.CreatedAt = prev.CreatedAt
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		item.ExpiresAt = &exp
	} else {
		ttl = 0
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return &errs.StoreError{Op: "put", Err: err}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.itemKey(namespace, key), payload, ttl)
	pipe.SAdd(ctx, r.indexKey(namespace), key)
	pipe.SAdd(ctx, r.namespacesKey(), nsKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		return &errs.StoreError{Op: "put", Err: err}
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, namespace []string, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.itemKey(namespace, key))
	pipe.SRem(ctx, r.indexKey(namespace), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return &errs.StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (r *RedisStore) Search(ctx context.Context, namespace []string, query string, limit int) ([]*Item, error) {
	items, err := r.liveItems(ctx, namespace)
	if err != nil {
		return nil, err
	}

	out := make([]*Item, 0, len(items))
	for _, item := range items {
		if query == "" || matchesQuery(item.Value, query) {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RedisStore) List(ctx context.Context, namespace []string, limit int) ([]string, error) {
	items, err := r.liveItems(ctx, namespace)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (r *RedisStore) ListNamespaces(ctx context.Context, prefix []string) ([][]string, error) {
	members, err := r.client.SMembers(ctx, r.namespacesKey()).Result()
	if err != nil {
		return nil, &errs.StoreError{Op: "list_namespaces", Err: err}
	}

	want := nsKey(prefix)
	var out [][]string
	for _, ns := range members {
		if len(prefix) > 0 && ns != want && !strings.HasPrefix(ns, want+namespaceSeparator) {
			continue
		}
		if ns == "" {
			out = append(out, []string{})
			continue
		}
		out = append(out, strings.Split(ns, namespaceSeparator))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Join(out[i], namespaceSeparator) < strings.Join(out[j], namespaceSeparator)
	})
	return out, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// liveItems loads every unexpired item in a namespace in key order, pruning
// index members whose payloads have lapsed.
func (r *RedisStore) liveItems(ctx context.Context, namespace []string) ([]*Item, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey(namespace)).Result()
	if err != nil {
		return nil, &errs.StoreError{Op: "list", Err: err}
	}
	sort.Strings(keys)

	items := make([]*Item, 0, len(keys))
	var stale []interface{}
	for _, key := range keys {
		item, err := r.Get(ctx, namespace, key)
		if err != nil {
			return nil, err
		}
		if item == nil {
			stale = append(stale, key)
			continue
		}
		items = append(items, item)
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, r.indexKey(namespace), stale...)
	}
	return items, nil
}
