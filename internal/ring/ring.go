// Package ring provides a small fixed-capacity ring buffer used for
// bounded history retention. This package is internal and should not be
// imported by external projects.
package ring

import "sync"

// Buffer is a fixed-capacity buffer that evicts the oldest entry when full.
// Safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// New creates a Buffer with the given capacity. Capacity must be positive;
// values below 1 are clamped to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest if the buffer is full.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = item
	if b.size < len(b.items) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.items)
	}
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Items returns the stored items in insertion order, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}

// Find returns the first item matching the predicate, oldest first.
func (b *Buffer[T]) Find(match func(T) bool) (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := 0; i < b.size; i++ {
		item := b.items[(b.head+i)%len(b.items)]
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}
