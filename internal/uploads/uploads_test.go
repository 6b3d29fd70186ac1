package uploads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/darkroom/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewCache(CacheOpts{TTL: ttl, MaxBytes: 16, Now: clk.Now}), clk
}

func TestPutGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	u, err := c.Put("shoe.png", "image/png", []byte("pngdata"))
	require.NoError(t, err)
	require.NotEmpty(t, u.Token)

	got, ok := c.Get(u.Token)
	require.True(t, ok)
	assert.Equal(t, "shoe.png", got.Name)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, []byte("pngdata"), got.Data)
}

func TestPut_Limits(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	_, err := c.Put("empty", "image/png", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = c.Put("big", "image/png", make([]byte, 17))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = c.Put("exact", "image/png", make([]byte, 16))
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestGet_Expired(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	u, err := c.Put("a", "image/jpeg", []byte("x"))
	require.NoError(t, err)

	clk.advance(59 * time.Second)
	_, ok := c.Get(u.Token)
	require.True(t, ok, "entry expired early")

	clk.advance(time.Second)
	_, ok = c.Get(u.Token)
	require.False(t, ok, "entry should be expired at its TTL")
	assert.Zero(t, c.Len(), "expired entry dropped on read")
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	u, err := c.Put("a", "image/jpeg", []byte("x"))
	require.NoError(t, err)

	c.Delete(u.Token)
	c.Delete("never-existed")
	_, ok := c.Get(u.Token)
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	_, err := c.Put("old", "image/png", []byte("1"))
	require.NoError(t, err)
	clk.advance(40 * time.Second)
	fresh, err := c.Put("new", "image/png", []byte("2"))
	require.NoError(t, err)
	clk.advance(30 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(fresh.Token)
	assert.True(t, ok, "fresh entry was swept")
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	_, err := c.Put("a", "image/png", []byte("1"))
	require.NoError(t, err)
	clk.advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 5*time.Millisecond,
		"Run did not sweep expired entry")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewCache_Defaults(t *testing.T) {
	c := NewCache(CacheOpts{})
	assert.Equal(t, DefaultMaxBytes, c.MaxBytes())
	assert.Equal(t, DefaultTTL, c.ttl)
}
