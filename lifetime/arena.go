package lifetime

import (
	"github.com/vkngwrapper/arsenal/vsched/internal/utils"
)

// Handle is a weak reference into an Arena. A Handle stays valid until the value it points to
// is removed; after that, lookups through the Handle fail even if the slot has been reused.
type Handle struct {
	index      uint32
	generation uint32
}

// NoHandle is the zero Handle, which never resolves
var NoHandle Handle

// IsValid returns false for NoHandle. It does not check whether the Handle still resolves in
// its Arena.
func (h Handle) IsValid() bool {
	return h.generation != 0
}

type arenaEntry[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena owns a set of values and hands out generation-checked Handles to them. It is used
// in place of back-pointers between objects whose lifetimes end independently, such as
// a framebuffer that remembers which render pass it was built for.
type Arena[T any] struct {
	mutex   utils.OptionalRWMutex
	entries []arenaEntry[T]
	free    []uint32
	count   int
}

func (a *Arena[T]) Init(useMutex bool) {
	a.mutex.UseMutex = useMutex
}

// Insert adds a value to the arena and returns a Handle that resolves to it
func (a *Arena[T]) Insert(value T) Handle {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.count++

	if len(a.free) > 0 {
		index := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]

		entry := &a.entries[index]
		entry.value = value
		entry.live = true
		return Handle{index: index, generation: entry.generation}
	}

	index := uint32(len(a.entries))
	a.entries = append(a.entries, arenaEntry[T]{value: value, generation: 1, live: true})
	return Handle{index: index, generation: 1}
}

func (a *Arena[T]) lookup(h Handle) *arenaEntry[T] {
	if !h.IsValid() || int(h.index) >= len(a.entries) {
		return nil
	}

	entry := &a.entries[h.index]
	if !entry.live || entry.generation != h.generation {
		return nil
	}

	return entry
}

// Get resolves a Handle. The boolean return is false if the value has been removed.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	entry := a.lookup(h)
	if entry == nil {
		var zero T
		return zero, false
	}

	return entry.value, true
}

// Has returns true if the Handle still resolves
func (a *Arena[T]) Has(h Handle) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.lookup(h) != nil
}

// Remove takes a value out of the arena and returns it. Every outstanding Handle to the value
// stops resolving.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var zero T
	entry := a.lookup(h)
	if entry == nil {
		return zero, false
	}

	value := entry.value
	entry.value = zero
	entry.live = false
	entry.generation++
	if entry.generation == 0 {
		// Skip the invalid generation on wraparound
		entry.generation = 1
	}

	a.free = append(a.free, h.index)
	a.count--

	return value, true
}

// Count returns the number of live values in the arena
func (a *Arena[T]) Count() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.count
}

// Iter calls the callback for every live value. Iteration stops early if the callback returns
// true. The arena must not be modified from inside the callback.
func (a *Arena[T]) Iter(callback func(h Handle, value T) bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for index := range a.entries {
		entry := &a.entries[index]
		if !entry.live {
			continue
		}

		if callback(Handle{index: uint32(index), generation: entry.generation}, entry.value) {
			return
		}
	}
}
