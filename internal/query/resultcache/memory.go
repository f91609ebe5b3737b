package resultcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryStore is an in-process Store with TTL support
type MemoryStore struct {
	data   sync.Map // prefixed key -> memoryItem
	config Config
	cancel context.CancelFunc
}

// NewMemoryStore creates a memory store that sweeps expired entries every interval
func NewMemoryStore(config Config, interval time.Duration) *MemoryStore {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &MemoryStore{config: config, cancel: cancel}
	go m.sweep(ctx, interval)
	return m
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullKey := m.config.Prefix + key
	v, ok := m.data.Load(fullKey)
	if !ok {
		return nil, missError(key)
	}
	item := v.(memoryItem)
	if item.expired(time.Now()) {
		m.data.Delete(fullKey)
		return nil, missError(key)
	}
	return item.value, nil
}

// Set implements Store. A zero ttl selects the default TTL.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	m.data.Store(m.config.Prefix+key, item)
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Delete(m.config.Prefix + key)
	return nil
}

// Clear implements Store
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Range(func(k, _ interface{}) bool {
		if strings.HasPrefix(k.(string), m.config.Prefix) {
			m.data.Delete(k)
		}
		return true
	})
	return nil
}

// Exists implements Store
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if IsMiss(err) {
		return false, nil
	}
	return err == nil, err
}

// Close stops the sweeper
func (m *MemoryStore) Close() error {
	m.cancel()
	return nil
}

func (m *MemoryStore) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.data.Range(func(k, v interface{}) bool {
				if v.(memoryItem).expired(now) {
					m.data.Delete(k)
				}
				return true
			})
		}
	}
}
