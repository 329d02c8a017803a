package scheduler

// Slots bounds the number of active tasks. Unlike a channel semaphore it
// never blocks: the executor runs on a single goroutine and simply stops
// promoting tasks when no slot is free. A limit of 0 means unlimited.
type Slots struct {
	limit int
	inUse int
}

// NewSlots creates a slot pool with the given limit.
// If n <= 0, the pool is unlimited.
func NewSlots(n int) *Slots {
	if n < 0 {
		n = 0
	}
	return &Slots{limit: n}
}

// TryAcquire takes a slot if one is free and reports whether it did.
func (s *Slots) TryAcquire() bool {
	if s.limit > 0 && s.inUse >= s.limit {
		return false
	}
	s.inUse++
	return true
}

// Release returns a slot.
func (s *Slots) Release() {
	if s.inUse > 0 {
		s.inUse--
	}
}

// Capacity returns the limit, or 0 if unlimited.
func (s *Slots) Capacity() int { return s.limit }

// InUse returns the number of held slots.
func (s *Slots) InUse() int { return s.inUse }

// Resize changes the limit. Holders above a lowered limit keep their slots;
// no new slot is handed out until usage drops below it.
func (s *Slots) Resize(n int) {
	if n < 0 {
		n = 0
	}
	s.limit = n
}
