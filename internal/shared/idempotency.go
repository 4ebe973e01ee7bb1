package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrIdempotencyInFlight indicates another request holds the key and has not finished.
	ErrIdempotencyInFlight = errors.New("idempotent request still in flight")
	// ErrIdempotencyKeyRequired indicates an empty key or module.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
)

const pendingMarker = "\x00pending"

// IdempotencyStore remembers the outcome reference of processed request keys.
type IdempotencyStore interface {
	// Begin reserves key. It returns the stored reference when the key already
	// completed, ErrIdempotencyInFlight when it is reserved but unfinished, and
	// ("", nil) when the caller now owns the key.
	Begin(ctx context.Context, module, key string) (string, error)
	Complete(ctx context.Context, module, key, ref string) error
	Release(ctx context.Context, module, key string) error
}

func idempotencyKey(module, key string) (string, error) {
	if key == "" || module == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return fmt.Sprintf("idempotency:%s:%s", module, key), nil
}

// RedisIdempotency keeps keys in redis for a retention window.
type RedisIdempotency struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisIdempotency constructs the store.
func NewRedisIdempotency(client *redis.Client, retention time.Duration) *RedisIdempotency {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisIdempotency{client: client, retention: retention}
}

// Begin implements IdempotencyStore.
func (s *RedisIdempotency) Begin(ctx context.Context, module, key string) (string, error) {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return "", err
	}
	ok, err := s.client.SetNX(ctx, full, pendingMarker, s.retention).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	ref, err := s.client.Get(ctx, full).Result()
	if errors.Is(err, redis.Nil) {
		return s.Begin(ctx, module, key)
	}
	if err != nil {
		return "", err
	}
	if ref == pendingMarker {
		return "", ErrIdempotencyInFlight
	}
	return ref, nil
}

// Complete implements IdempotencyStore.
func (s *RedisIdempotency) Complete(ctx context.Context, module, key, ref string) error {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, full, ref, s.retention).Err()
}

// Release implements IdempotencyStore, typically used to roll back failed processing.
func (s *RedisIdempotency) Release(ctx context.Context, module, key string) error {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	return s.client.Del(ctx, full).Err()
}

// MemoryIdempotency is a process-local IdempotencyStore without expiry.
type MemoryIdempotency struct {
	mu   sync.Mutex
	refs map[string]string
}

// NewMemoryIdempotency constructs the store.
func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{refs: make(map[string]string)}
}

// Begin implements IdempotencyStore.
func (s *MemoryIdempotency) Begin(ctx context.Context, module, key string) (string, error) {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[full]
	switch {
	case !ok:
		s.refs[full] = pendingMarker
		return "", nil
	case ref == pendingMarker:
		return "", ErrIdempotencyInFlight
	}
	return ref, nil
}

// Complete implements IdempotencyStore.
func (s *MemoryIdempotency) Complete(ctx context.Context, module, key, ref string) error {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[full] = ref
	return nil
}

// Release implements IdempotencyStore.
func (s *MemoryIdempotency) Release(ctx context.Context, module, key string) error {
	full, err := idempotencyKey(module, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, full)
	return nil
}
