// Package seen tracks which names have already been submitted during a
// recognizer session.
package seen

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Set records names once per session.
type Set interface {
	// Add marks name as seen and reports whether it was new.
	Add(ctx context.Context, name string) (bool, error)
	// Reset forgets every name.
	Reset(ctx context.Context) error
}

// Memory is a process-local Set.
type Memory struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewMemory returns an empty set.
func NewMemory() *Memory {
	return &Memory{names: make(map[string]struct{})}
}

func (m *Memory) Add(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[name]; ok {
		return false, nil
	}
	m.names[name] = struct{}{}
	return true, nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	m.names = make(map[string]struct{})
	m.mu.Unlock()
	return nil
}

// Redis shares a Set between recognizer instances. Entries expire after ttl.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a set keyed under prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "attendance:seen:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Add(ctx context.Context, name string) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+name, time.Now().Unix(), r.ttl).Result()
}

func (r *Redis) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// New picks a Set by backend name. Unknown backends fall back to memory.
func New(backend string, client *redis.Client, ttl time.Duration) Set {
	if backend == "redis" && client != nil {
		return NewRedis(client, "", ttl)
	}
	return NewMemory()
}
