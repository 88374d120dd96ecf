// Package keylock provides a striped mutex keyed by episode id, so
// concurrent operations against distinct episodes never contend while
// operations against the same episode serialize.
package keylock

import (
	"sync"

	"github.com/google/uuid"
)

const stripes = 256

// Striped is a fixed-size array of mutexes indexed by a hash of the key.
// Distinct keys usually land on distinct stripes; a shared stripe only
// costs extra serialization, never incorrectness.
type Striped struct {
	locks [stripes]sync.Mutex
}

// New returns a ready-to-use striped lock.
func New() *Striped {
	return &Striped{}
}

func (s *Striped) stripe(id uuid.UUID) *sync.Mutex {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return &s.locks[h%stripes]
}

// Lock acquires the stripe guarding id.
func (s *Striped) Lock(id uuid.UUID) {
	s.stripe(id).Lock()
}

// Unlock releases the stripe guarding id.
func (s *Striped) Unlock(id uuid.UUID) {
	s.stripe(id).Unlock()
}

// WithLock runs fn while holding the stripe guarding id.
func (s *Striped) WithLock(id uuid.UUID, fn func()) {
	s.Lock(id)
	defer s.Unlock(id)
	fn()
}
