// Package filelock implements an inter-process advisory lock on a file path.
//
// The lock is a sibling directory "<path>.lock". Directory creation is atomic
// on every platform we run on, so whoever creates it owns the lock. The owner
// touches the directory mtime periodically; a lock whose mtime is older than
// Options.Stale belongs to a crashed holder and is reclaimed.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"sync"
	"time"
)

// ErrLockHeld is returned when the retry schedule is exhausted while another
// holder still owns the lock.
var ErrLockHeld = errors.New("filelock: lock is held by another process")

// Options controls retries and staleness.
type Options struct {
	// Retries is the number of retries after the first failed attempt.
	Retries int

	// Factor is the exponential growth factor between waits.
	Factor float64

	// MinWait is the wait before the first retry.
	MinWait time.Duration

	// MaxWait caps any single wait.
	MaxWait time.Duration

	// Randomize multiplies each wait by a random factor in [1, 2).
	Randomize bool

	// Stale is the age after which an unrefreshed lock is presumed abandoned.
	Stale time.Duration

	Logger *slog.Logger
}

// DefaultOptions is the schedule used for the auth profile store.
var DefaultOptions = Options{
	Retries:   10,
	Factor:    2,
	MinWait:   100 * time.Millisecond,
	MaxWait:   10 * time.Second,
	Randomize: true,
	Stale:     30 * time.Second,
}

// Lock is a held lock. Release it exactly once; extra calls are no-ops.
type Lock struct {
	dir    string
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}

	once       sync.Once
	releaseErr error
}

// Path returns the lock directory path.
func (l *Lock) Path() string { return l.dir }

// Release stops the keepalive and removes the lock directory.
func (l *Lock) Release() error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
			l.releaseErr = fmt.Errorf("removing lock %s: %w", l.dir, err)
		}
	})
	return l.releaseErr
}

// backoff computes the wait before each retry.
type backoff struct {
	opts    Options
	attempt int
	jitter  func() float64
}

func newBackoff(opts Options) *backoff {
	return &backoff{opts: opts, jitter: rand.Float64}
}

// next returns the wait before the next retry, or false once retries are
// exhausted.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.opts.Retries {
		return 0, false
	}
	factor := b.opts.Factor
	if factor <= 0 {
		factor = 1
	}
	wait := float64(b.opts.MinWait) * math.Pow(factor, float64(b.attempt))
	if b.opts.Randomize {
		wait *= 1 + b.jitter()
	}
	if b.opts.MaxWait > 0 && wait > float64(b.opts.MaxWait) {
		wait = float64(b.opts.MaxWait)
	}
	b.attempt++
	return time.Duration(math.Round(wait)), true
}

// Acquire takes the lock for path, retrying on contention according to opts.
// It returns ErrLockHeld when all retries fail, or the context error when ctx
// ends first.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dir := path + ".lock"
	bo := newBackoff(opts)

	for {
		ok, err := tryLock(dir, opts.Stale)
		if err != nil {
			return nil, err
		}
		if ok {
			l := &Lock{
				dir:    dir,
				logger: logger.With("component", "filelock"),
				stop:   make(chan struct{}),
				done:   make(chan struct{}),
			}
			go l.keepalive(opts.Stale)
			return l, nil
		}

		wait, more := bo.next()
		if !more {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryLock makes a single attempt. It reclaims the lock when it is stale.
func tryLock(dir string, stale time.Duration) (bool, error) {
	err := os.Mkdir(dir, 0o700)
	if err == nil {
		return true, nil
	}
	if !os.IsExist(err) {
		return false, fmt.Errorf("creating lock %s: %w", dir, err)
	}

	info, statErr := os.Stat(dir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Released between our mkdir and stat; let the caller retry.
			return false, nil
		}
		return false, fmt.Errorf("inspecting lock %s: %w", dir, statErr)
	}
	if stale <= 0 || time.Since(info.ModTime()) <= stale {
		return false, nil
	}

	if !reclaim(dir, info) {
		return false, nil
	}
	if err := os.Mkdir(dir, 0o700); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock %s: %w", dir, err)
	}
	return true, nil
}

// reclaim moves the stale lock dir aside and deletes it. Only one contender
// can win the rename; it reports false for the others. If the directory that was moved
// is not the one inspected as stale, it belongs to a live holder and is put
// back.
func reclaim(dir string, stale os.FileInfo) bool {
	aside := fmt.Sprintf("%s.stale.%d.%d", dir, os.Getpid(), rand.Uint64())
	if err := os.Rename(dir, aside); err != nil {
		return false
	}
	moved, err := os.Stat(aside)
	if err != nil || !os.SameFile(moved, stale) || !moved.ModTime().Equal(stale.ModTime()) {
		_ = os.Rename(aside, dir)
		return false
	}
	_ = os.Remove(aside)
	return true
}

// keepalive refreshes the lock mtime so other processes do not reclaim it.
func (l *Lock) keepalive(stale time.Duration) {
	defer close(l.done)
	if stale <= 0 {
		<-l.stop
		return
	}
	ticker := time.NewTicker(stale / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			if err := os.Chtimes(l.dir, now, now); err != nil {
				l.logger.Warn("lock keepalive failed", "path", l.dir, "error", err)
			}
		}
	}
}
