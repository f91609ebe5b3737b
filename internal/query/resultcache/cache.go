// Package resultcache stores the final results of queries declared with
// cache: true. Results are gob encoded, so converted values keep their Go
// types, and kept in memory or in Redis.
package resultcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry markers, the first byte of every stored value
const (
	entryNil byte = iota
	entryGob
)

func init() {
	// Concrete types that appear behind interface{} in result rows
	gob.Register(map[string]interface{}{})
	gob.Register([]map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(time.Time{})
	gob.Register(uuid.UUID{})
	gob.Register(json.Number(""))
}

// Store is a byte-oriented cache backend
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config holds settings shared by all backends
type Config struct {
	// DefaultTTL applies when a query declares no cache-ttl. Zero or less keeps entries until cleared.
	DefaultTTL time.Duration
	// Prefix namespaces every key
	Prefix string
}

// DefaultConfig returns the default cache settings
func DefaultConfig() Config {
	return Config{
		DefaultTTL: time.Minute,
		Prefix:     "namedquery:",
	}
}

// ErrMiss is returned by a Store when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// IsMiss reports whether err is a cache miss
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

func missError(key string) error {
	return fmt.Errorf("%w: %s", ErrMiss, key)
}

// Cache encodes query results into a Store. Backend failures are logged and
// treated as misses so a broken cache never fails a query.
type Cache struct {
	store  Store
	logger *zap.Logger
}

// New wraps store
func New(store Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, logger: logger}
}

// Load decodes the entry stored under key into dst and reports whether it was found
func (c *Cache) Load(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsMiss(err) {
			c.logger.Warn("result cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := decode(data, dst); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.store.Delete(ctx, key)
		return false
	}
	return true
}

// Save encodes v under key. v is normally the pointer later passed to Load.
func (c *Cache) Save(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := encode(v)
	if err != nil {
		c.logger.Warn("result not cacheable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached result
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close releases the backend
func (c *Cache) Close() error {
	return c.store.Close()
}

func encode(v interface{}) ([]byte, error) {
	if isNil(v) {
		return []byte{entryNil}, nil
	}
	var buf bytes.Buffer
	buf.WriteByte(entryGob)
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, dst interface{}) error {
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("cache destination must be a non-nil pointer, got %T", dst)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty cache entry")
	}
	switch data[0] {
	case entryNil:
		target.Elem().Set(reflect.Zero(target.Elem().Type()))
		return nil
	case entryGob:
		return gob.NewDecoder(bytes.NewReader(data[1:])).Decode(dst)
	}
	return fmt.Errorf("unknown cache entry marker %d", data[0])
}

// isNil reports whether v, after following pointers, holds no value
func isNil(v interface{}) bool {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
