package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

type noRetryPolicy struct{}

func (noRetryPolicy) ShouldRetry(error, int) bool { return false }
func (noRetryPolicy) Backoff(int) time.Duration   { return 0 }

type fakeFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
	err   error
}

func newFakeFlagStore() *fakeFlagStore {
	return &fakeFlagStore{flags: map[string]bool{}}
}

func (f *fakeFlagStore) Bool(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.flags[name], nil
}

func (f *fakeFlagStore) SetBool(_ context.Context, name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[name] = value
	return nil
}

type flakyConn struct {
	fakeConn
	failPaths map[string]error
}

func (c *flakyConn) Retrieve(ctx context.Context, path string) ([]byte, error) {
	if err, ok := c.failPaths[path]; ok {
		return nil, err
	}
	return c.fakeConn.Retrieve(ctx, path)
}

func refsFor(paths ...string) []pricesync.FileRef {
	refs := make([]pricesync.FileRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, pricesync.FileRef{Path: p, LineID: 22, ShipID: 180, SailingID: p})
	}
	return refs
}

func TestBatchDownloader_ClassifiesOutcomes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	conn := &flakyConn{
		fakeConn: fakeConn{
			files: map[string][]byte{
				"a.json": []byte(`{"ok":1}`),
				"b.json": []byte(`{"ok":2}`),
			},
		},
		failPaths: map[string]error{
			"broken.json": errors.New("connection reset by peer"),
		},
	}
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 50, Cooldown: time.Second}, clock)
	pool := NewPool(&staticDialer{conn: conn}, breaker, PoolConfig{MaxConns: 2, AcquireTimeout: time.Second}, clock, zap.NewNop())

	d := NewBatchDownloader(pool, noRetryPolicy{}, newFakeFlagStore(), DownloaderConfig{Concurrency: 2}, zap.NewNop())

	result, err := d.Download(context.Background(), refsFor("a.json", "b.json", "missing.json", "broken.json"))
	require.NoError(t, err)
	require.Equal(t, 4, result.Total)
	require.Equal(t, 2, result.Counts[pricesync.OutcomeSuccess])
	require.Equal(t, 1, result.Counts[pricesync.OutcomeNotFound])
	require.Equal(t, 1, result.Counts[pricesync.OutcomeConnectionFailure])
	require.False(t, result.Paused)

	require.Equal(t, []byte(`{"ok":1}`), result.Succeeded["a.json"].Body)
	require.NotContains(t, result.Succeeded, "missing.json")
}

func TestBatchDownloader_EmptyBatch(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := NewBreaker(BreakerConfig{}, clock)
	pool := NewPool(&fakeDialer{}, breaker, PoolConfig{MaxConns: 1, AcquireTimeout: time.Second}, clock, zap.NewNop())
	d := NewBatchDownloader(pool, noRetryPolicy{}, newFakeFlagStore(), DownloaderConfig{}, zap.NewNop())

	result, err := d.Download(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, result.Counts)
}

func TestBatchDownloader_PauseFlagStopsDispatch(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	conn := &fakeConn{files: map[string][]byte{"a.json": []byte(`{}`)}}
	breaker := NewBreaker(BreakerConfig{}, clock)
	pool := NewPool(&staticDialer{conn: conn}, breaker, PoolConfig{MaxConns: 1, AcquireTimeout: time.Second}, clock, zap.NewNop())

	flags := newFakeFlagStore()
	require.NoError(t, flags.SetBool(context.Background(), pricesync.FlagWebhooksPaused, true))

	d := NewBatchDownloader(pool, noRetryPolicy{}, flags, DownloaderConfig{Concurrency: 1}, zap.NewNop())
	result, err := d.Download(context.Background(), refsFor("a.json", "b.json"))
	require.NoError(t, err)
	require.True(t, result.Paused)
	require.Empty(t, result.Succeeded)
}

func TestBatchDownloader_FlagErrorMeansNotPaused(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	conn := &fakeConn{files: map[string][]byte{"a.json": []byte(`{}`)}}
	breaker := NewBreaker(BreakerConfig{}, clock)
	pool := NewPool(&staticDialer{conn: conn}, breaker, PoolConfig{MaxConns: 1, AcquireTimeout: time.Second}, clock, zap.NewNop())

	flags := newFakeFlagStore()
	flags.err = errors.New("database unreachable")

	d := NewBatchDownloader(pool, noRetryPolicy{}, flags, DownloaderConfig{Concurrency: 1}, zap.NewNop())
	result, err := d.Download(context.Background(), refsFor("a.json"))
	require.NoError(t, err)
	require.False(t, result.Paused)
	require.Equal(t, 1, result.Counts[pricesync.OutcomeSuccess])
}

func TestBatchDownloader_OpenBreakerShortCircuitsBatch(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, clock)
	breaker.RecordFailure()
	pool := NewPool(&fakeDialer{}, breaker, PoolConfig{MaxConns: 2, AcquireTimeout: time.Second}, clock, zap.NewNop())

	d := NewBatchDownloader(pool, noRetryPolicy{}, newFakeFlagStore(), DownloaderConfig{Concurrency: 2}, zap.NewNop())

	start := time.Now()
	result, err := d.Download(context.Background(), refsFor("a.json", "b.json", "c.json"))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, 3, result.Counts[pricesync.OutcomeConnectionFailure])
	require.Empty(t, result.Succeeded)
}

// staticDialer always hands out the same session.
type staticDialer struct {
	conn Conn
}

func (d *staticDialer) Dial(context.Context) (Conn, error) {
	return d.conn, nil
}
