package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window    int64
	resetUnix int64
	count     int
}

// MemoryLimiter implements a fixed-window in-memory rate limiter.
// Stale buckets are evicted on a periodic sweep so the map stays bounded.
type MemoryLimiter struct {
	mu        sync.Mutex
	counters  map[string]*memoryEntry
	lastSweep time.Time
}

// sweepInterval bounds how often the eviction sweep runs.
const sweepInterval = 5 * time.Minute

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// Allow checks whether the request should be allowed in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if window <= 0 {
		window = WindowMinute
	}
	windowSec := int64(window / time.Second)
	bucket := now.Unix() / windowSec
	resetUnix := (bucket + 1) * windowSec
	reset := time.Unix(resetUnix, 0).UTC()

	l.mu.Lock()
	l.sweep(now)
	entry := l.counters[key]
	if entry == nil {
		entry = &memoryEntry{window: bucket, resetUnix: resetUnix}
		l.counters[key] = entry
	}
	if entry.window != bucket {
		entry.window = bucket
		entry.resetUnix = resetUnix
		entry.count = 0
	}
	if entry.count >= limit {
		l.mu.Unlock()
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	remaining := limit - entry.count
	l.mu.Unlock()
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

// sweep evicts buckets whose window already ended. Callers hold l.mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	nowUnix := now.Unix()
	for key, entry := range l.counters {
		if entry.resetUnix <= nowUnix {
			delete(l.counters, key)
		}
	}
}
