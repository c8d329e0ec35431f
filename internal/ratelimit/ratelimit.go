// Package ratelimit implements a distributed sliding-window counter over an
// external atomic counter store. The limiter fails open: if the store is
// unreachable the request is allowed, because the quota guards against
// abuse rather than providing a correctness guarantee.
package ratelimit

import (
	"context"
	"log"
	"time"
)

type Preset struct {
	Limit  int
	Window time.Duration
}

var (
	MessageSend = Preset{Limit: 10, Window: time.Minute}
	FileUpload  = Preset{Limit: 5, Window: time.Minute}
	GeneralAPI  = Preset{Limit: 30, Window: time.Minute}
	Auth        = Preset{Limit: 100, Window: time.Hour}
)

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// CounterStore is the contract the limiter needs from its backing store:
// atomic increment, TTL query, TTL set, and delete.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Limiter counts requests per key within a rolling window. A nil store is
// the disabled variant: every check is allowed and reset is a no-op.
type Limiter struct {
	store CounterStore
	log   *log.Logger
}

func NewLimiter(logger *log.Logger, store CounterStore) *Limiter {
	return &Limiter{store: store, log: logger}
}

// NewDisabledLimiter returns a limiter with no backing store, for
// deployments and tests that opt out of quota enforcement.
func NewDisabledLimiter(logger *log.Logger) *Limiter {
	return &Limiter{log: logger}
}

func (l *Limiter) Enabled() bool {
	return l.store != nil
}

func (l *Limiter) allowAll(p Preset) Result {
	return Result{
		Allowed:   true,
		Remaining: p.Limit,
		ResetAt:   time.Now().Add(p.Window),
	}
}

// Check atomically increments the counter for key and compares it to the
// preset's limit. The expiry is attached on the increment that creates the
// key; a crash between the two steps leaves a key that keeps counting
// until reset, which degrades availability for that key but never
// over-admits.
func (l *Limiter) Check(ctx context.Context, key string, p Preset) Result {
	if l.store == nil {
		return l.allowAll(p)
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.log.Printf("rate limiter: incr %q: %v, failing open", key, err)
		return l.allowAll(p)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, p.Window); err != nil {
			l.log.Printf("rate limiter: set expiry on %q: %v", key, err)
		}
	}

	resetAt := time.Now().Add(p.Window)
	if ttl, err := l.store.TTL(ctx, key); err != nil {
		l.log.Printf("rate limiter: ttl %q: %v", key, err)
	} else if ttl > 0 {
		resetAt = time.Now().Add(ttl)
	}

	remaining := p.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(p.Limit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Reset deletes the counter for key. It is a no-op when the limiter is
// disabled.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l.store == nil {
		return nil
	}
	return l.store.Del(ctx, key)
}
