package core

// export_limiter.go bounds export runs.
//
// Exports hold a database connection and stream every entry of a project, so
// the number of parallel runs is capped with a semaphore. When all slots are
// taken new runs wait up to maxWait before failing with ErrTooManyExports.
//
// A run also claims its output directory: two runs for the same project and
// user would wipe each other's files, so a second claim on a busy key fails
// immediately with ErrExportInProgress.

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTooManyExports is returned when no slot frees up within the wait
	// timeout. Clients should retry after a short delay.
	ErrTooManyExports = errors.New("too many concurrent exports, please try again later")

	// ErrExportInProgress is returned when the same output directory is
	// already being written.
	ErrExportInProgress = errors.New("an export to this destination is already running")
)

// DefaultMaxConcurrentExports is the default limit for parallel runs.
const DefaultMaxConcurrentExports = 3

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ExportLimiter controls concurrent export runs.
type ExportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// NewExportLimiter creates a limiter that allows at most maxConcurrent runs.
func NewExportLimiter(maxConcurrent int, maxWait time.Duration) *ExportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentExports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ExportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		active:    make(map[string]struct{}),
	}
}

// Acquire claims key and a run slot. The caller MUST call the returned
// release func when the run completes (use defer).
func (l *ExportLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	if !l.claim(key) {
		return nil, ErrExportInProgress
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.semaphore
				l.unclaim(key)
			})
		}, nil

	case <-waitCtx.Done():
		l.unclaim(key)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTooManyExports
	}
}

func (l *ExportLimiter) claim(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[key]; busy {
		return false
	}
	l.active[key] = struct{}{}
	return true
}

func (l *ExportLimiter) unclaim(key string) {
	l.mu.Lock()
	delete(l.active, key)
	l.mu.Unlock()
}

// Busy reports whether key is claimed by a running or waiting export.
func (l *ExportLimiter) Busy(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[key]
	return busy
}

// TryClaim claims key without taking a run slot, so maintenance that
// deletes a destination cannot overlap an export into it. ok is false when
// key is already claimed.
func (l *ExportLimiter) TryClaim(key string) (release func(), ok bool) {
	if !l.claim(key) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { l.unclaim(key) }) }, true
}

// ActiveCount returns the number of runs holding a slot.
func (l *ExportLimiter) ActiveCount() int {
	return len(l.semaphore)
}

// WaitForDrain blocks until all running exports complete or ctx is done.
// Used for graceful shutdown.
func (l *ExportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExportLimiterStatus is a snapshot of the limiter's state.
type ExportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *ExportLimiter) Status() ExportLimiterStatus {
	active := len(l.semaphore)
	return ExportLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - active,
		MaxConcurrent: cap(l.semaphore),
	}
}
