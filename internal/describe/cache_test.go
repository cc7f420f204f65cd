package describe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransport counts calls per lowercase object name and can block
// until released.
type countingTransport struct {
	mu      sync.Mutex
	calls   map[string]int
	global  atomic.Int32
	release chan struct{}
	fail    map[string]error
}

func newCountingTransport() *countingTransport {
	return &countingTransport{calls: make(map[string]int), fail: make(map[string]error)}
}

func (c *countingTransport) DescribeGlobal(ctx context.Context) ([]ObjectSummary, error) {
	c.global.Add(1)
	return []ObjectSummary{{Name: "Account", Queryable: true}}, nil
}

func (c *countingTransport) DescribeObject(ctx context.Context, name string) (*Object, error) {
	c.mu.Lock()
	c.calls[strings.ToLower(name)]++
	err := c.fail[strings.ToLower(name)]
	release := c.release
	c.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Object{Name: name}, nil
}

func (c *countingTransport) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[strings.ToLower(name)]
}

func TestCache_DeduplicatesConcurrentCalls(t *testing.T) {
	transport := newCountingTransport()
	transport.release = make(chan struct{})
	cache := NewCache(transport)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Object, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "Account"
			if i%2 == 1 {
				name = "account"
			}
			results[i], errs[i] = cache.Get(context.Background(), name)
		}(i)
	}

	require.Eventually(t, func() bool { return transport.count("account") == 1 }, timeout, tick)
	close(transport.release)
	wg.Wait()

	assert.Equal(t, 1, transport.count("account"))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	// Later lookups are served from memory.
	_, err := cache.Get(context.Background(), "ACCOUNT")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.count("account"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_FailureIsNotCached(t *testing.T) {
	transport := newCountingTransport()
	boom := errors.New("boom")
	transport.fail["contact"] = boom
	cache := NewCache(transport)

	_, err := cache.Get(context.Background(), "Contact")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())

	transport.mu.Lock()
	delete(transport.fail, "contact")
	transport.mu.Unlock()

	obj, err := cache.Get(context.Background(), "Contact")
	require.NoError(t, err)
	assert.Equal(t, "Contact", obj.Name)
	assert.Equal(t, 2, transport.count("contact"))
}

func TestCache_ConcurrentFailureReachesEveryCaller(t *testing.T) {
	transport := newCountingTransport()
	transport.release = make(chan struct{})
	boom := errors.New("boom")
	transport.fail["account"] = boom
	cache := NewCache(transport)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Get(context.Background(), "Account")
		}(i)
	}

	require.Eventually(t, func() bool { return transport.count("account") == 1 }, timeout, tick)
	close(transport.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], boom, "caller %d", i)
	}
	assert.Equal(t, 0, cache.Len())

	calls := transport.count("account")
	transport.mu.Lock()
	delete(transport.fail, "account")
	transport.mu.Unlock()

	obj, err := cache.Get(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", obj.Name)
	assert.Equal(t, calls+1, transport.count("account"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_GlobalIsMemoized(t *testing.T) {
	transport := newCountingTransport()
	cache := NewCache(transport)

	for i := 0; i < 3; i++ {
		global, err := cache.Global(context.Background())
		require.NoError(t, err)
		require.Len(t, global, 1)
	}
	assert.Equal(t, int32(1), transport.global.Load())

	summary, ok := FindSummary([]ObjectSummary{{Name: "Account"}}, "ACCOUNT")
	assert.True(t, ok)
	assert.Equal(t, "Account", summary.Name)
}
