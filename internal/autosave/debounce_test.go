package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recorder) flush(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTouchCoalescesBursts(t *testing.T) {
	rec := &recorder{}
	d := New(40*time.Millisecond, rec.flush, nil)
	defer d.Stop(context.Background())

	for i := 0; i < 5; i++ {
		d.Touch("u1")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, rec.count())
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.False(t, d.Pending("u1"))
}

func TestKeysAreIndependent(t *testing.T) {
	rec := &recorder{}
	d := New(20*time.Millisecond, rec.flush, nil)
	d.Touch("a")
	d.Touch("b")
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	d.Stop(context.Background())
	assert.ElementsMatch(t, []string{"a", "b"}, rec.calls)
}

func TestCancelDropsPendingSave(t *testing.T) {
	rec := &recorder{}
	d := New(20*time.Millisecond, rec.flush, nil)
	d.Touch("u1")
	d.Cancel("u1")
	time.Sleep(60 * time.Millisecond)
	d.Stop(context.Background())
	assert.Equal(t, 0, rec.count())
}

func TestFlushRunsImmediatelyOnce(t *testing.T) {
	rec := &recorder{}
	d := New(time.Hour, rec.flush, nil)
	d.Touch("u1")
	assert.True(t, d.Flush(context.Background(), "u1"))
	assert.False(t, d.Flush(context.Background(), "u1"))
	assert.Equal(t, 1, rec.count())
	d.Stop(context.Background())
	assert.Equal(t, 1, rec.count())
}

func TestStopFlushesPendingAndRejectsTouches(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	d := New(time.Hour, rec.flush, nil)
	d.Touch("a")
	d.Touch("b")
	d.Stop(context.Background())
	assert.Equal(t, 2, rec.count())

	d.Touch("c")
	assert.False(t, d.Pending("c"))
}
