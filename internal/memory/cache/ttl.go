package cache

import "time"

// adaptiveTTL implements the cache tier's hit-based TTL discipline:
// every hit extends an entry's TTL toward a ceiling; an entry that goes
// unused decays back toward a floor the next time its TTL is recomputed on
// write. This rewards hot keys with longer residency without needing a
// background sweep.
type adaptiveTTL struct {
	floor   time.Duration
	ceiling time.Duration
	step    time.Duration
}

func newAdaptiveTTL(base time.Duration) adaptiveTTL {
	return adaptiveTTL{
		floor:   base / 2,
		ceiling: base * 4,
		step:    base / 4,
	}
}

// extend returns the next TTL given the entry's current TTL and a hit.
func (a adaptiveTTL) extend(current time.Duration) time.Duration {
	next := current + a.step
	if next > a.ceiling {
		return a.ceiling
	}
	if next < a.floor {
		return a.floor
	}
	return next
}

// decay returns the TTL to assign on a fresh write, which starts an entry
// back toward the floor so a key that was hot, went cold, and is now
// rewritten doesn't inherit its old extended lifetime indefinitely.
func (a adaptiveTTL) decay(current time.Duration) time.Duration {
	if current <= a.floor {
		return a.floor
	}
	next := current - a.step
	if next < a.floor {
		return a.floor
	}
	return next
}

type ttlEntry struct {
	expiresAt time.Time
	ttl       time.Duration
}

func (e ttlEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}
