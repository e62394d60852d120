package kmerge

import (
	"cmp"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](t *testing.T, m *Merger[T]) ([]T, []int) {
	t.Helper()
	var items []T
	var srcs []int
	for {
		item, src, ok, err := m.Next()
		require.NoError(t, err)
		if !ok {
			return items, srcs
		}
		items = append(items, item)
		srcs = append(srcs, src)
	}
}

func TestMergeThreeSources(t *testing.T) {
	m := New([]Source[int]{
		FromSlice([]int{1, 4, 7}),
		FromSlice([]int{2, 5, 8}),
		FromSlice([]int{3, 6, 9}),
	}, cmp.Compare[int])
	items, srcs := drain(t, m)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, items)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, srcs)
}

func TestMergeDescendingAndEmpty(t *testing.T) {
	desc := func(a, b int) int { return cmp.Compare(b, a) }
	m := New([]Source[int]{
		FromSlice([]int{9, 3}),
		FromSlice[int](nil),
		FromSlice([]int{8, 7, 1}),
	}, desc)
	assert.Equal(t, 2, m.Len())
	items, _ := drain(t, m)
	assert.Equal(t, []int{9, 8, 7, 3, 1}, items)
}

func TestMergeTiesBreakBySource(t *testing.T) {
	type rec struct{ key, tag int }
	byKey := func(a, b rec) int { return cmp.Compare(a.key, b.key) }
	m := New([]Source[rec]{
		FromSlice([]rec{{1, 0}, {2, 0}}),
		FromSlice([]rec{{1, 1}, {2, 1}}),
	}, byKey)
	items, _ := drain(t, m)
	assert.Equal(t, []rec{{1, 0}, {1, 1}, {2, 0}, {2, 1}}, items)
}

type failing struct {
	SliceSource[int]
}

func (f *failing) Advance() error { return errors.New("boom") }

func TestMergeAdvanceError(t *testing.T) {
	m := New([]Source[int]{&failing{SliceSource[int]{items: []int{1}}}}, cmp.Compare[int])
	_, _, ok, err := m.Next()
	assert.False(t, ok)
	assert.EqualError(t, err, "boom")
}
