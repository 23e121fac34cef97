package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// KV is a string key/value store. Values are serialised by the caller.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Load decodes the value stored under key. A missing key, a read failure or
// a value that does not decode all yield def; failures are logged.
func Load[T any](ctx context.Context, kv KV, key string, def T, logger *zap.Logger) T {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		logger.Warn("Failed to read persisted value",
			zap.Error(&PersistenceError{Op: "read", Key: key, Err: err}))
		return def
	}
	if !ok {
		return def
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		logger.Warn("Discarding corrupt persisted value",
			zap.Error(&PersistenceError{Op: "decode", Key: key, Err: err}))
		return def
	}
	return value
}

func Save[T any](ctx context.Context, kv KV, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := kv.Set(ctx, key, string(data)); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Value is an in-memory value mirrored to a KV. Memory is authoritative once
// loaded; a failed write leaves memory updated and is only logged.
type Value[T any] struct {
	mu     sync.RWMutex
	kv     KV
	key    string
	value  T
	logger *zap.Logger
}

func NewValue[T any](ctx context.Context, kv KV, key string, def T, logger *zap.Logger) *Value[T] {
	return &Value[T]{
		kv:     kv,
		key:    key,
		value:  Load(ctx, kv, key, def, logger),
		logger: logger,
	}
}

func (v *Value[T]) Key() string {
	return v.key
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value in memory, then persists it. The persistence error is
// returned for callers that want it, after being logged.
func (v *Value[T]) Set(ctx context.Context, value T) error {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()

	if err := Save(ctx, v.kv, v.key, value); err != nil {
		v.logger.Error("Failed to persist value", zap.String("key", v.key), zap.Error(err))
		return err
	}
	return nil
}

var ErrClosed = errors.New("store closed")

// MemoryKV keeps values in process memory only.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func NewMemory() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
