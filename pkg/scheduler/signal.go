package scheduler

// Signal is a one-shot completion flag with continuations. It is not safe
// for concurrent use; it lives on the loop goroutine like the state machines
// that own it.
type Signal struct {
	done    bool
	waiters []func()
}

// Done reports whether Fire has been called since the last Reset.
func (s *Signal) Done() bool {
	return s.done
}

// Wait runs fn immediately if the signal is done, otherwise on the next Fire.
func (s *Signal) Wait(fn func()) {
	if s.done {
		fn()
		return
	}
	s.waiters = append(s.waiters, fn)
}

// Pending returns the number of registered waiters.
func (s *Signal) Pending() int {
	return len(s.waiters)
}

// Fire marks the signal done and runs all waiters in registration order.
// Waiters registered during Fire run immediately.
func (s *Signal) Fire() {
	s.done = true
	waiters := s.waiters
	s.waiters = nil
	for _, fn := range waiters {
		fn()
	}
}

// Reset clears the done flag. Waiters already registered are kept and will
// run on the next Fire.
func (s *Signal) Reset() {
	s.done = false
}

// Clear drops all waiters without running them.
func (s *Signal) Clear() {
	s.waiters = nil
}
