package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Key derives the cache key of one call. encoding/json writes map keys in
// sorted order, so equal parameter maps produce equal keys.
func Key(query, op string, params map[string]interface{}) (string, error) {
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("parameters are not cacheable: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(op))
	return query + ":" + op + ":" + hex.EncodeToString(h.Sum(nil)[:16]), nil
}

// Open creates the store selected by backend: none, memory or redis.
// It returns nil for none.
func Open(ctx context.Context, backend string, config RedisConfig) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(config.Config, 0), nil
	case "redis":
		store, err := NewRedisStore(ctx, config)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
