// Package state provides the key/value store behind the relay's dedup guard
// and rate limiter.
//
// Every entry may carry a TTL. Expiry is checked on read, so an expired entry
// behaves exactly like a missing one even before Sweep removes it.
//
// Drivers:
//   - "memory" (default): process-local map; a restart is a full reset.
//   - "sqlite": a SQLite file, so several relay processes on one host can
//     share dedup and rate-limit state.
package state
