// Package autosave coalesces bursts of edits into a single save per key.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultQuiet = 2 * time.Second

type FlushFunc func(ctx context.Context, key string) error

// Debouncer runs Flush for a key once Quiet has passed without another
// Touch for that key. Flush failures are logged and otherwise ignored.
type Debouncer struct {
	quiet time.Duration
	flush FlushFunc
	log   *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	gen     map[string]uint64
	stopped bool
	wg      sync.WaitGroup
}

func New(quiet time.Duration, flush FlushFunc, log *zap.Logger) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Debouncer{
		quiet:  quiet,
		flush:  flush,
		log:    log,
		timers: map[string]*time.Timer{},
		gen:    map[string]uint64{},
	}
}

// Touch restarts the quiet period for key.
func (d *Debouncer) Touch(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.take(key)
	g := d.gen[key]
	d.wg.Add(1)
	d.timers[key] = time.AfterFunc(d.quiet, func() {
		defer d.wg.Done()
		d.fire(key, g)
	})
}

// Pending reports whether key has a save scheduled.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

func (d *Debouncer) take(key string) bool {
	t, ok := d.timers[key]
	if !ok {
		return false
	}
	if t.Stop() {
		// the callback will never run, so release its slot here
		d.wg.Done()
	}
	delete(d.timers, key)
	d.gen[key]++
	return true
}

func (d *Debouncer) fire(key string, g uint64) {
	d.mu.Lock()
	if d.gen[key] != g {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.mu.Unlock()
	d.run(context.Background(), key)
}

func (d *Debouncer) run(ctx context.Context, key string) {
	if err := d.flush(ctx, key); err != nil {
		d.log.Warn("autosave failed", zap.String("key", key), zap.Error(err))
		return
	}
	d.log.Debug("autosaved", zap.String("key", key))
}

// Cancel drops a pending save for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.take(key)
}

// Flush runs a pending save for key immediately. It reports whether a save
// was pending.
func (d *Debouncer) Flush(ctx context.Context, key string) bool {
	d.mu.Lock()
	pending := d.take(key)
	d.mu.Unlock()
	if pending {
		d.run(ctx, key)
	}
	return pending
}

// Stop flushes every pending key, waits for in-flight saves and rejects
// later touches.
func (d *Debouncer) Stop(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	var keys []string
	for key := range d.timers {
		if d.take(key) {
			keys = append(keys, key)
		}
	}
	d.mu.Unlock()
	for _, key := range keys {
		d.run(ctx, key)
	}
	d.wg.Wait()
}
