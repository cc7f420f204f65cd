package describe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) Delete(context.Context, ...string) error { return errors.New("store down") }

func (failingStore) Flush(context.Context, string) error { return errors.New("store down") }

func TestMemoryStore_TTL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1700000000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), 0))

	value, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), value)

	now = now.Add(time.Minute)
	_, ok, _ = store.Get(ctx, "a")
	assert.False(t, ok, "entry should expire at its deadline")
	_, ok, _ = store.Get(ctx, "b")
	assert.True(t, ok, "zero TTL never expires")
}

func TestMemoryStore_FlushPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "x:object:a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "x:global", []byte("2"), 0))
	require.NoError(t, store.Set(ctx, "y:global", []byte("3"), 0))

	require.NoError(t, store.Flush(ctx, "x:"))

	_, ok, _ := store.Get(ctx, "x:object:a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "y:global")
	assert.True(t, ok)
}

func TestStoreTransport_ServesFromStore(t *testing.T) {
	next := newCountingTransport()
	store := NewMemoryStore()
	transport := NewStoreTransport(next, store, WithStorePrefix("soqlr:"), WithStoreTTL(time.Hour))
	ctx := context.Background()

	first, err := transport.DescribeObject(ctx, "Account")
	require.NoError(t, err)
	second, err := transport.DescribeObject(ctx, "account")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.count("account"))

	_, ok, _ := store.Get(ctx, "soqlr:object:account")
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		_, err := transport.DescribeGlobal(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), next.global.Load())
}

func TestStoreTransport_Invalidate(t *testing.T) {
	next := newCountingTransport()
	transport := NewStoreTransport(next, NewMemoryStore())
	ctx := context.Background()

	_, err := transport.DescribeObject(ctx, "Account")
	require.NoError(t, err)
	_, err = transport.DescribeObject(ctx, "Contact")
	require.NoError(t, err)

	require.NoError(t, transport.Invalidate(ctx, "ACCOUNT"))
	_, err = transport.DescribeObject(ctx, "Account")
	require.NoError(t, err)
	_, err = transport.DescribeObject(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count("account"))
	assert.Equal(t, 1, next.count("contact"))

	require.NoError(t, transport.InvalidateAll(ctx))
	_, err = transport.DescribeObject(ctx, "Contact")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count("contact"))
}

func TestStoreTransport_StoreFailureFallsThrough(t *testing.T) {
	next := newCountingTransport()
	transport := NewStoreTransport(next, failingStore{})
	ctx := context.Background()

	obj, err := transport.DescribeObject(ctx, "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", obj.Name)

	_, err = transport.DescribeObject(ctx, "Account")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count("account"))

	assert.Error(t, transport.InvalidateAll(ctx))
}

func TestStoreTransport_ErrorsAreNotStored(t *testing.T) {
	next := newCountingTransport()
	next.fail["account"] = NotFound("Account")
	store := NewMemoryStore()
	transport := NewStoreTransport(next, store)

	_, err := transport.DescribeObject(context.Background(), "Account")
	require.ErrorIs(t, err, ErrObjectNotFound)
	_, ok, _ := store.Get(context.Background(), "object:account")
	assert.False(t, ok)
}
