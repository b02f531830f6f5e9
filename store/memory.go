package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	errs "github.com/stategraph-go/stategraph/errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

const namespaceSeparator = "/"

// MemoryStore is an in-memory Store guarded by a read-write mutex. Expired
// items are dropped lazily on access, so the store runs no background
// goroutine. Intended for tests and single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]*Item
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]*Item)}
}

func (s *MemoryStore) Get(ctx context.Context, namespace []string, key string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &errs.StoreError{Op: "get", Err: ErrClosed}
	}

	item, ok := s.data[nsKey(namespace)][key]
	if !ok || expired(item) {
		return nil, nil
	}
	return item.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, namespace []string, key string, value map[string]interface{}) error {
	return s.PutWithTTL(ctx, namespace, key, value, 0)
}

func (s *MemoryStore) PutWithTTL(ctx context.Context, namespace []string, key string, value map[string]interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &errs.StoreError{Op: "put", Err: ErrClosed}
	}

	ns := nsKey(namespace)
	if _, ok := s.data[ns]; !ok {
		s.data[ns] = make(map[string]*Item)
	}

	now := time.Now().UTC()
	item := &Item{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     copyValue(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok := s.data[ns][key]; ok && !expired(prev) {
		item.CreatedAt = prev.CreatedAt
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		item.ExpiresAt = &exp
	}
	s.data[ns][key] = item
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace []string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &errs.StoreError{Op: "delete", Err: ErrClosed}
	}

	ns := nsKey(namespace)
	delete(s.data[ns], key)
	if len(s.data[ns]) == 0 {
		delete(s.data, ns)
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, namespace []string, query string, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &errs.StoreError{Op: "search", Err: ErrClosed}
	}

	var items []*Item
	for _, item := range s.data[nsKey(namespace)] {
		if expired(item) {
			continue
		}
		if query == "" || matchesQuery(item.Value, query) {
			items = append(items, item.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) List(ctx context.Context, namespace []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &errs.StoreError{Op: "list", Err: ErrClosed}
	}

	var keys []string
	for key, item := range s.data[nsKey(namespace)] {
		if expired(item) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *MemoryStore) ListNamespaces(ctx context.Context, prefix []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &errs.StoreError{Op: "list_namespaces", Err: ErrClosed}
	}

	want := nsKey(prefix)
	var out [][]string
	for ns, items := range s.data {
		if len(prefix) > 0 && ns != want && !strings.HasPrefix(ns, want+namespaceSeparator) {
			continue
		}
		alive := false
		for _, item := range items {
			if !expired(item) {
				alive = true
				break
			}
		}
		if !alive {
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

// Close marks the store closed. Further operations fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = make(map[string]map[string]*Item)
	return nil
}

func nsKey(namespace []string) string {
	return strings.Join(namespace, namespaceSeparator)
}

func expired(item *Item) bool {
	return item.ExpiresAt != nil && !item.ExpiresAt.After(time.Now())
}

// matchesQuery reports whether any string value in the document, nested
// values included, contains query case-insensitively.
func matchesQuery(value map[string]interface{}, query string) bool {
	query = strings.ToLower(query)
	var walk func(v interface{}) bool
	walk = func(v interface{}) bool {
		switch val := v.(type) {
		case string:
			return strings.Contains(strings.ToLower(val), query)
		case map[string]interface{}:
			for _, item := range val {
				if walk(item) {
					return true
				}
			}
		case []interface{}:
			for _, item := range val {
				if walk(item) {
					return true
				}
			}
		}
		return false
	}
	return walk(value)
}
