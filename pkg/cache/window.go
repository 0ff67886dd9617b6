package cache

import (
	"container/list"
	"math/bits"
	"sync"
)

// Window is a thread-safe, bounded, insertion-ordered buffer indexed by key.
// It models a sliding acknowledgment window: entries age out from the oldest
// end when the window is full, and a key lookup splits the window into the
// entries before the key, the key itself and the entries after it.
type Window[K comparable, V any] struct {
	capacity  int
	keyFn     func(V) K
	items     map[K]*list.Element
	order     *list.List
	mu        sync.Mutex
	onEvict   func(value V) // Called for entries aged out by capacity pressure
	onDiscard func(value V) // Called for entries dropped by Correlate as older than the match
}

// NewWindow creates a window holding at most capacity entries.
// keyFn extracts the key of a value. It panics if capacity is not positive
// or keyFn is nil.
func NewWindow[K comparable, V any](capacity int, keyFn func(V) K) *Window[K, V] {
	if capacity <= 0 {
		panic("window capacity must be positive")
	}
	if keyFn == nil {
		panic("window key function must not be nil")
	}
	return &Window[K, V]{
		capacity: capacity,
		keyFn:    keyFn,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// SetEvictCallback sets a callback invoked when the oldest entry is dropped
// to make room for a new one.
func (w *Window[K, V]) SetEvictCallback(fn func(value V)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEvict = fn
}

// SetDiscardCallback sets a callback invoked for every entry Correlate drops
// because it is older than the matched key.
func (w *Window[K, V]) SetDiscardCallback(fn func(value V)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDiscard = fn
}

// Insert appends value as the newest entry. A value whose key is already
// present replaces the old entry and moves to the newest position.
// If the window overflows, the oldest entry is evicted.
func (w *Window[K, V]) Insert(value V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := w.keyFn(value)
	if elem, ok := w.items[key]; ok {
		w.order.Remove(elem)
		delete(w.items, key)
	}

	w.items[key] = w.order.PushBack(value)

	for w.order.Len() > w.capacity {
		w.evictOldest()
	}
}

// Correlate looks up key and drains the window.
//
// When key is present, every entry inserted before it is discarded, the
// matching entry is returned as match, and every entry inserted after it is
// returned in insertion order as resend.
// When key is absent, found is false and the whole window is returned as
// resend in insertion order.
func (w *Window[K, V]) Correlate(key K) (match V, found bool, resend []V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	elem, found := w.items[key]
	if !found {
		resend = w.drain(w.order.Front())
		return match, false, resend
	}

	for e := w.order.Front(); e != elem; e = w.order.Front() {
		value := w.remove(e)
		if w.onDiscard != nil {
			w.onDiscard(value)
		}
	}

	next := elem.Next()
	match = w.remove(elem)
	resend = w.drain(next)
	return match, true, resend
}

// Grow raises the capacity so that at least hint entries fit, taking the
// larger of twice the current capacity and the next power of two not below
// hint. Capacity never shrinks. It returns the new capacity.
func (w *Window[K, V]) Grow(hint int) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.capacity * 2
	if p := nextPowerOfTwo(hint); p > next {
		next = p
	}
	w.capacity = next
	return w.capacity
}

// SetCapacity raises the capacity to n. Smaller values are ignored.
// It returns the resulting capacity.
func (w *Window[K, V]) SetCapacity(n int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > w.capacity {
		w.capacity = n
	}
	return w.capacity
}

// Capacity returns the maximum number of entries the window holds.
func (w *Window[K, V]) Capacity() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity
}

// Len returns the number of entries currently in the window.
func (w *Window[K, V]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

// Items returns a snapshot of the window contents, oldest first.
func (w *Window[K, V]) Items() []V {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]V, 0, w.order.Len())
	for e := w.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(V))
	}
	return out
}

// Must be called with lock held.
func (w *Window[K, V]) evictOldest() {
	elem := w.order.Front()
	if elem == nil {
		return
	}
	value := w.remove(elem)
	if w.onEvict != nil {
		w.onEvict(value)
	}
}

// drain removes from and every later entry, returning them in order.
// Must be called with lock held.
func (w *Window[K, V]) drain(from *list.Element) []V {
	var out []V
	for e := from; e != nil; {
		next := e.Next()
		out = append(out, w.remove(e))
		e = next
	}
	return out
}

// Must be called with lock held.
func (w *Window[K, V]) remove(elem *list.Element) V {
	value := w.order.Remove(elem).(V)
	delete(w.items, w.keyFn(value))
	return value
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
