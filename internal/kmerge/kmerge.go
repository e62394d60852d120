// Package kmerge merges several individually ordered sources into one
// ordered stream, holding a single buffered item per source.
package kmerge

import (
	"container/heap"
)

// Source is an ordered stream that can be peeked and advanced.
type Source[T any] interface {
	// Peek returns the current item, or false at end of data.
	Peek() (T, bool)
	// Advance moves to the next item.
	Advance() error
}

// Merger pops items in comparator order. Ties between sources are broken
// by ascending source index.
type Merger[T any] struct {
	h mergeHeap[T]
}

// New primes every source and builds the merge heap. cmp returns a
// negative number when a sorts before b.
func New[T any](sources []Source[T], cmp func(a, b T) int) *Merger[T] {
	m := &Merger[T]{h: mergeHeap[T]{cmp: cmp}}
	for i, src := range sources {
		if item, ok := src.Peek(); ok {
			m.h.entries = append(m.h.entries, entry[T]{item: item, src: i, source: src})
		}
	}
	heap.Init(&m.h)
	return m
}

// Len returns the number of sources that still have data.
func (m *Merger[T]) Len() int { return m.h.Len() }

// Next returns the globally smallest item and the index of the source it
// came from. ok is false once every source is drained. Only the source
// that produced the item is advanced.
func (m *Merger[T]) Next() (item T, src int, ok bool, err error) {
	if m.h.Len() == 0 {
		return item, 0, false, nil
	}
	top := &m.h.entries[0]
	item, src = top.item, top.src
	if err := top.source.Advance(); err != nil {
		return item, src, false, err
	}
	if next, more := top.source.Peek(); more {
		top.item = next
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
	return item, src, true, nil
}

type entry[T any] struct {
	item   T
	src    int
	source Source[T]
}

type mergeHeap[T any] struct {
	entries []entry[T]
	cmp     func(a, b T) int
}

func (h *mergeHeap[T]) Len() int { return len(h.entries) }

func (h *mergeHeap[T]) Less(i, j int) bool {
	if c := h.cmp(h.entries[i].item, h.entries[j].item); c != 0 {
		return c < 0
	}
	return h.entries[i].src < h.entries[j].src
}

func (h *mergeHeap[T]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *mergeHeap[T]) Push(x any) { h.entries = append(h.entries, x.(entry[T])) }

func (h *mergeHeap[T]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

// SliceSource adapts an ordered slice to a Source.
type SliceSource[T any] struct {
	items []T
	pos   int
}

// FromSlice returns a Source over items.
func FromSlice[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

func (s *SliceSource[T]) Peek() (T, bool) {
	if s.pos >= len(s.items) {
		var zero T
		return zero, false
	}
	return s.items[s.pos], true
}

func (s *SliceSource[T]) Advance() error {
	s.pos++
	return nil
}
