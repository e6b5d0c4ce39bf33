package state

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed        = errors.New("state store closed")
	ErrUnknownDriver = errors.New("unknown state driver")
)

// Config configures the store.
type Config struct {
	Driver      string
	Path        string        // sqlite only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the relay policies.
//
// A ttl <= 0 stores the entry without expiry.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Add stores value only if key is absent or expired. It never refreshes
	// the TTL of a live entry. added reports whether the write happened.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (added bool, err error)
	Delete(ctx context.Context, key string) error
	// Sweep removes expired entries and reports how many were removed.
	Sweep(ctx context.Context) (removed int, err error)
	Close() error
}

// Option configures a store at open time.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// expired reports whether an entry with the given expiry is dead at now.
// The entry lives for [created, created+ttl).
func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
