package partition

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// LeafSet is a set of leaf ids over a fixed leaf count. It backs the read
// and lock bitmaps of a statement.
type LeafSet struct {
	n    uint
	bits *bitset.BitSet
}

// NewLeafSet returns an empty set over n leaves.
func NewLeafSet(n int) *LeafSet {
	return &LeafSet{n: uint(n), bits: bitset.New(uint(n))}
}

// AllLeaves returns a set containing every leaf.
func AllLeaves(n int) *LeafSet {
	s := NewLeafSet(n)
	for i := 0; i < n; i++ {
		s.bits.Set(uint(i))
	}
	return s
}

// Size is the number of leaves the set ranges over.
func (s *LeafSet) Size() int { return int(s.n) }

// Add inserts a leaf id. Ids outside the range are ignored.
func (s *LeafSet) Add(id int) {
	if id >= 0 && uint(id) < s.n {
		s.bits.Set(uint(id))
	}
}

// AddRange inserts every id in [from, to).
func (s *LeafSet) AddRange(from, to int) {
	for i := max(from, 0); i < to && uint(i) < s.n; i++ {
		s.bits.Set(uint(i))
	}
}

// Remove deletes a leaf id.
func (s *LeafSet) Remove(id int) {
	if id >= 0 && uint(id) < s.n {
		s.bits.Clear(uint(id))
	}
}

// Has reports membership.
func (s *LeafSet) Has(id int) bool {
	return id >= 0 && uint(id) < s.n && s.bits.Test(uint(id))
}

// Count returns the number of members.
func (s *LeafSet) Count() int { return int(s.bits.Count()) }

// IsEmpty reports whether the set has no members.
func (s *LeafSet) IsEmpty() bool { return s.bits.None() }

// Full reports whether every leaf is a member.
func (s *LeafSet) Full() bool { return s.Count() == int(s.n) }

// Next returns the first member >= from.
func (s *LeafSet) Next(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	i, ok := s.bits.NextSet(uint(from))
	if !ok || i >= s.n {
		return 0, false
	}
	return int(i), true
}

// Slice returns the members in ascending order.
func (s *LeafSet) Slice() []int {
	out := make([]int, 0, s.Count())
	for i, ok := s.bits.NextSet(0); ok && i < s.n; i, ok = s.bits.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Clone returns an independent copy.
func (s *LeafSet) Clone() *LeafSet {
	return &LeafSet{n: s.n, bits: s.bits.Clone()}
}

// Intersect returns s ∩ o.
func (s *LeafSet) Intersect(o *LeafSet) *LeafSet {
	return &LeafSet{n: s.n, bits: s.bits.Intersection(o.bits)}
}

// Union returns s ∪ o.
func (s *LeafSet) Union(o *LeafSet) *LeafSet {
	return &LeafSet{n: s.n, bits: s.bits.Union(o.bits)}
}

// Contains reports whether o is a subset of s.
func (s *LeafSet) Contains(o *LeafSet) bool {
	return o.bits.DifferenceCardinality(s.bits) == 0
}

// Equal reports whether both sets have the same members.
func (s *LeafSet) Equal(o *LeafSet) bool {
	return s.n == o.n && s.bits.Equal(o.bits)
}

func (s *LeafSet) String() string {
	ids := s.Slice()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
