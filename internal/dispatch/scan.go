package dispatch

import (
	"fmt"
	"io"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/kmerge"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Scanner reads rows from the leaves of the read set. Next returns the
// leaf each row came from and io.EOF at end of data. Close must be called
// even when the scan is abandoned early.
type Scanner interface {
	Next() (types.Row, int, error)
	Close() error
}

// Scan starts a scan over the read set. An ordered scan returns rows in
// table key order across all leaves; an unordered scan drains the leaves
// one at a time in leaf order. Only one scan can be active on a handle.
func (h *Handle) Scan(ordered bool) (Scanner, error) {
	if h.scan != nil {
		return nil, fmt.Errorf("a scan is already active on this table handle")
	}
	ids := h.read.Slice()
	var (
		s   Scanner
		err error
	)
	if ordered {
		s, err = h.newMergeScan(ids)
	} else {
		s = &seqScan{h: h, ids: ids}
	}
	if err != nil {
		return nil, err
	}
	h.scan = s
	return s, nil
}

func (h *Handle) endScan(s Scanner) {
	if h.scan == s {
		h.scan = nil
	}
}

// seqScan keeps at most one leaf cursor open.
type seqScan struct {
	h      *Handle
	ids    []int
	next   int
	leaf   int
	cur    backend.Cursor
	closed bool
}

func (s *seqScan) Next() (types.Row, int, error) {
	if s.closed {
		return nil, 0, io.EOF
	}
	for {
		if s.cur == nil {
			if s.next >= len(s.ids) {
				return nil, 0, io.EOF
			}
			s.leaf = s.ids[s.next]
			s.next++
			cur, err := s.h.leaves[s.leaf].Scan(false)
			if err != nil {
				return nil, s.leaf, err
			}
			s.cur = cur
		}
		row, err := s.cur.Next()
		if err == io.EOF {
			cerr := s.cur.Close()
			s.cur = nil
			if cerr != nil {
				return nil, s.leaf, cerr
			}
			continue
		}
		if err != nil {
			return nil, s.leaf, err
		}
		return row, s.leaf, nil
	}
}

func (s *seqScan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.h.endScan(s)
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}

// cursorSource holds the next row of one leaf cursor.
type cursorSource struct {
	cur  backend.Cursor
	row  types.Row
	done bool
}

func (c *cursorSource) fetch() error {
	row, err := c.cur.Next()
	if err == io.EOF {
		c.row, c.done = nil, true
		return nil
	}
	if err != nil {
		return err
	}
	c.row = row
	return nil
}

func (c *cursorSource) Peek() (types.Row, bool) {
	if c.done {
		return nil, false
	}
	return c.row, true
}

func (c *cursorSource) Advance() error { return c.fetch() }

// mergeScan opens every leaf of the read set at once and merges them on
// the table key. Equal keys come out in leaf order.
type mergeScan struct {
	h      *Handle
	ids    []int
	srcs   []*cursorSource
	m      *kmerge.Merger[types.Row]
	closed bool
}

func (h *Handle) newMergeScan(ids []int) (*mergeScan, error) {
	s := &mergeScan{h: h, ids: ids}
	sources := make([]kmerge.Source[types.Row], 0, len(ids))
	for _, id := range ids {
		cur, err := h.leaves[id].Scan(true)
		if err != nil {
			s.closeCursors()
			return nil, err
		}
		src := &cursorSource{cur: cur}
		s.srcs = append(s.srcs, src)
		if err := src.fetch(); err != nil {
			s.closeCursors()
			return nil, err
		}
		sources = append(sources, src)
	}
	schema := h.t.Schema
	keys := schema.KeyIndexes()
	s.m = kmerge.New(sources, func(a, b types.Row) int {
		return types.CompareRowsOn(schema, keys, a, b)
	})
	return s, nil
}

func (s *mergeScan) Next() (types.Row, int, error) {
	if s.closed {
		return nil, 0, io.EOF
	}
	row, src, ok, err := s.m.Next()
	if err != nil {
		return nil, s.ids[src], err
	}
	if !ok {
		return nil, 0, io.EOF
	}
	return row, s.ids[src], nil
}

func (s *mergeScan) closeCursors() error {
	var first error
	for _, src := range s.srcs {
		if err := src.cur.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.srcs = nil
	return first
}

func (s *mergeScan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.h.endScan(s)
	return s.closeCursors()
}
