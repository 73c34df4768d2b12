// Package freelist provides typed free-lists with reset-on-return.
//
// A List is not safe for concurrent use. The lifecycle packages own one list
// per kind and only touch it from the scheduler goroutine; sync.Pool would
// drop items across GC cycles and its Get/Put are too costly for the tick
// path.
package freelist

// List recycles *T values. New allocates a value when the list is empty and
// Reset clears a value before it is stored.
type List[T any] struct {
	items []*T
	limit int

	newFn   func() *T
	resetFn func(*T)

	gets   uint64
	misses uint64
}

// New creates a list holding at most limit idle values. A limit <= 0 means
// unbounded. reset may be nil, in which case values are zeroed.
func New[T any](limit int, reset func(*T)) *List[T] {
	return &List[T]{
		limit:   limit,
		newFn:   func() *T { return new(T) },
		resetFn: reset,
	}
}

// Get returns an idle value or a new one.
func (l *List[T]) Get() *T {
	l.gets++
	if n := len(l.items); n > 0 {
		v := l.items[n-1]
		l.items[n-1] = nil
		l.items = l.items[:n-1]
		return v
	}
	l.misses++
	return l.newFn()
}

// Put resets v and keeps it for reuse. Values beyond the limit are dropped.
func (l *List[T]) Put(v *T) {
	if v == nil {
		return
	}
	if l.resetFn != nil {
		l.resetFn(v)
	} else {
		var zero T
		*v = zero
	}
	if l.limit > 0 && len(l.items) >= l.limit {
		return
	}
	l.items = append(l.items, v)
}

// Len returns the number of idle values.
func (l *List[T]) Len() int { return len(l.items) }

// Stats returns the number of Get calls and how many allocated.
func (l *List[T]) Stats() (gets, misses uint64) { return l.gets, l.misses }
