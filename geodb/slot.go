package geodb

import "go.uber.org/atomic"

// Slot is the single point of truth for "the generation current
// lookups should use". Readers and the updater never block each
// other: Get is a pointer load plus a reference bump, Swap is a
// pointer exchange.
type Slot struct {
	current atomic.Pointer[Handle]
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Get returns a referenced handle of the current generation. The
// caller must Release it on every exit path. ErrDatabaseNotReady is
// returned while no generation was activated.
func (s *Slot) Get() (*Handle, error) {
	for {
		handle := s.current.Load()
		if handle == nil {
			return nil, ErrDatabaseNotReady
		}

		if handle.acquire() {
			return handle, nil
		}

		// lost a race with a swap releasing the last reference,
		// the slot already points elsewhere.
	}
}

// Swap atomically replaces the current handle and returns the
// previous one still carrying its ownership reference. The caller is
// expected to Release it. Only the updater calls Swap and never
// concurrently, which its single-flight guard enforces.
func (s *Slot) Swap(next *Handle) *Handle {
	return s.current.Swap(next)
}
