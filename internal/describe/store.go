package describe

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"soqlrestore/internal/logging"
	"soqlrestore/internal/observability"
)

// Store is a process-wide key/value store for serialized describes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Flush removes every key under prefix.
	Flush(ctx context.Context, prefix string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Flush(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// StoreTransport serves describes from a Store and falls through to the
// wrapped transport on a miss. Store failures are logged and never fail a
// describe call.
type StoreTransport struct {
	next    Transport
	store   Store
	prefix  string
	ttl     time.Duration
	logger  *logging.Logger
	metrics *observability.DescribeMetrics
}

// StoreOption configures a StoreTransport.
type StoreOption func(*StoreTransport)

// WithStorePrefix namespaces every key written by the transport.
func WithStorePrefix(prefix string) StoreOption {
	return func(t *StoreTransport) {
		t.prefix = prefix
	}
}

// WithStoreTTL sets the entry lifetime. Zero keeps entries until invalidated.
func WithStoreTTL(ttl time.Duration) StoreOption {
	return func(t *StoreTransport) {
		t.ttl = ttl
	}
}

func WithStoreLogger(logger *logging.Logger) StoreOption {
	return func(t *StoreTransport) {
		t.logger = logger
	}
}

func WithStoreMetrics(metrics *observability.DescribeMetrics) StoreOption {
	return func(t *StoreTransport) {
		t.metrics = metrics
	}
}

// NewStoreTransport wraps next with store.
func NewStoreTransport(next Transport, store Store, opts ...StoreOption) *StoreTransport {
	t := &StoreTransport{
		next:   next,
		store:  store,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithFields(slog.String("component", "describe_store"))
	return t
}

func (t *StoreTransport) objectKey(name string) string {
	return t.prefix + "object:" + strings.ToLower(name)
}

func (t *StoreTransport) globalKey() string {
	return t.prefix + "global"
}

func (t *StoreTransport) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	var global []ObjectSummary
	if t.load(ctx, t.globalKey(), &global) {
		return global, nil
	}
	global, err := t.next.DescribeGlobal(ctx)
	if err != nil {
		return nil, err
	}
	t.save(ctx, t.globalKey(), global)
	return global, nil
}

func (t *StoreTransport) DescribeObject(ctx context.Context, name string) (*Object, error) {
	key := t.objectKey(name)
	var obj Object
	if t.load(ctx, key, &obj) {
		return &obj, nil
	}
	fetched, err := t.next.DescribeObject(ctx, name)
	if err != nil {
		return nil, err
	}
	t.save(ctx, key, fetched)
	return fetched, nil
}

// Invalidate drops the stored describes of the named objects.
func (t *StoreTransport) Invalidate(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, t.objectKey(name))
	}
	if err := t.store.Delete(ctx, keys...); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.RecordInvalidation(ctx, "object")
	}
	t.logger.Info("describe store invalidated", slog.Any("objects", names))
	return nil
}

// InvalidateAll drops every stored describe, including the global describe.
func (t *StoreTransport) InvalidateAll(ctx context.Context) error {
	if err := t.store.Flush(ctx, t.prefix); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.RecordInvalidation(ctx, "all")
	}
	t.logger.Info("describe store flushed")
	return nil
}

func (t *StoreTransport) load(ctx context.Context, key string, dest any) bool {
	data, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.logger.Warn("describe store read failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	if ok {
		if err := json.Unmarshal(data, dest); err != nil {
			t.logger.Warn("discarding undecodable describe store entry", slog.String("key", key), slog.String("error", err.Error()))
			ok = false
		}
	}
	if t.metrics != nil {
		t.metrics.RecordStoreLookup(ctx, ok)
	}
	return ok
}

func (t *StoreTransport) save(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("describe store encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := t.store.Set(ctx, key, data, t.ttl); err != nil {
		t.logger.Warn("describe store write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
