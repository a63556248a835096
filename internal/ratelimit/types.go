package ratelimit

import (
	"context"
	"time"
)

// Windows used by the guard.
const (
	// WindowMinute is the burst-check window.
	WindowMinute = time.Minute
	// WindowDay is the anonymous daily-allowance window.
	WindowDay = 24 * time.Hour
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides fixed-window rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}
