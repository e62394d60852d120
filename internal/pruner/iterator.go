package pruner

import (
	"github.com/harshithgowdakt/partdb/internal/partition"
)

const (
	stageSpan = iota
	stageSet
	stageNull
	stageDone
)

// Iterator lazily yields the leaf ids a pruned interval can reach, in
// span, set, NULL-partition order. The NULL partition is yielded once even
// when the span or set already holds it. An Iterator can be restarted with
// Reset.
type Iterator struct {
	t    *partition.Table
	sel  selection
	subs []int // nil means every subpartition
	read *partition.LeafSet

	stage  int
	pos    int
	cur    int
	subIdx int
}

func newIterator(t *partition.Table, sel selection, subs []int, read *partition.LeafSet) *Iterator {
	it := &Iterator{t: t, sel: sel, subs: subs, read: read}
	it.Reset()
	return it
}

// Reset restarts the iteration from the first leaf.
func (it *Iterator) Reset() {
	it.stage = stageSpan
	it.pos = it.sel.from
	it.cur = -1
	it.subIdx = 0
}

// Next returns the next leaf id, or false when the sequence is exhausted.
func (it *Iterator) Next() (int, bool) {
	for {
		if it.cur >= 0 && it.subIdx < it.subCount() {
			sub := it.subAt(it.subIdx)
			it.subIdx++
			leaf := it.t.LeafID(it.cur, sub)
			if it.read == nil || it.read.Has(leaf) {
				return leaf, true
			}
			continue
		}
		part, ok := it.nextPart()
		if !ok {
			return 0, false
		}
		it.cur, it.subIdx = part, 0
	}
}

func (it *Iterator) subCount() int {
	switch {
	case it.t.NumSubs == 0:
		return 1
	case it.subs == nil:
		return it.t.NumSubs
	}
	return len(it.subs)
}

func (it *Iterator) subAt(i int) int {
	if it.t.NumSubs == 0 || it.subs == nil {
		return i
	}
	return it.subs[i]
}

func (it *Iterator) nextPart() (int, bool) {
	for {
		switch it.stage {
		case stageSpan:
			if it.pos < it.sel.to {
				it.pos++
				return it.pos - 1, true
			}
			it.stage, it.pos = stageSet, 0
		case stageSet:
			if it.pos < len(it.sel.set) {
				it.pos++
				part := it.sel.set[it.pos-1]
				if part >= it.sel.from && part < it.sel.to {
					continue
				}
				return part, true
			}
			it.stage = stageNull
		case stageNull:
			it.stage = stageDone
			if n := it.sel.null; n >= 0 && !it.sel.covers(n) {
				return n, true
			}
		default:
			return 0, false
		}
	}
}

// Collect drains an iterator into a leaf set.
func Collect(it *Iterator) *partition.LeafSet {
	set := partition.NewLeafSet(it.t.NumLeaves())
	for leaf, ok := it.Next(); ok; leaf, ok = it.Next() {
		set.Add(leaf)
	}
	return set
}
