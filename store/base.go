// Package store provides the namespaced key-value store shared across graph
// executions. Unlike checkpoints, which snapshot one thread's state, the
// store holds data that outlives any single thread, for example user
// profiles or long-term memories. Nodes reach it through their context when
// the graph was compiled with one.
package store

import (
	"context"
	"time"
)

// Item is a stored value together with its location and timestamps.
type Item struct {
	// Namespace is the hierarchical path the item lives under.
	Namespace []string `json:"namespace"`
	// Key identifies the item within its namespace.
	Key string `json:"key"`
	// Value is the stored document.
	Value map[string]interface{} `json:"value"`
	// CreatedAt is when the item was first written.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the item was last written.
	UpdatedAt time.Time `json:"updated_at"`
	// ExpiresAt is when the item lapses, nil for no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Clone deep-copies the item so callers can mutate the result freely.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	out := &Item{
		Namespace: append([]string(nil), it.Namespace...),
		Key:       it.Key,
		Value:     copyValue(it.Value),
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
	if it.ExpiresAt != nil {
		exp := *it.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// Store is a namespaced key-value store. Implementations are safe for
// concurrent use; nodes of one superstep may access the store in parallel.
type Store interface {
	// Get retrieves an item, or (nil, nil) when absent or expired.
	Get(ctx context.Context, namespace []string, key string) (*Item, error)

	// Put stores value under namespace and key, overwriting any previous
	// value and preserving its creation time.
	Put(ctx context.Context, namespace []string, key string, value map[string]interface{}) error

	// PutWithTTL stores value and lets it lapse after ttl. A non-positive
	// ttl stores without expiry.
	PutWithTTL(ctx context.Context, namespace []string, key string, value map[string]interface{}, ttl time.Duration) error

	// Delete removes an item. Deleting an absent item is a no-op.
	Delete(ctx context.Context, namespace []string, key string) error

	// Search returns the items in a namespace whose string values contain
	// query, case-insensitively. An empty query matches everything. A
	// positive limit caps the result.
	Search(ctx context.Context, namespace []string, query string, limit int) ([]*Item, error)

	// List returns the keys in a namespace in lexical order. A positive
	// limit caps the result.
	List(ctx context.Context, namespace []string, limit int) ([]string, error)

	// ListNamespaces returns every namespace under prefix, including
	// prefix itself when populated. A nil prefix returns all namespaces.
	ListNamespaces(ctx context.Context, prefix []string) ([][]string, error)

	// Close releases the store's resources.
	Close() error
}

func copyValue(value map[string]interface{}) map[string]interface{} {
	if value == nil {
		return nil
	}
	out := make(map[string]interface{}, len(value))
	for k, v := range value {
		out[k] = copyAny(v)
	}
	return out
}

func copyAny(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyValue(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyAny(item)
		}
		return out
	default:
		return v
	}
}
