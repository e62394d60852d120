package backend

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/harshithgowdakt/partdb/internal/types"
)

const (
	treeDegree  = 32
	cursorBatch = 64
)

// KeyCodec encodes the key columns of a row into a Position.
type KeyCodec struct {
	Schema *types.Schema
	Cols   []int
}

// NewKeyCodec returns the codec for a schema's key.
func NewKeyCodec(s *types.Schema) KeyCodec {
	return KeyCodec{Schema: s, Cols: s.KeyIndexes()}
}

// Encode returns the position of a row.
func (k KeyCodec) Encode(row types.Row) Position {
	return types.AppendRowOn(nil, k.Schema, k.Cols, row)
}

// Decode returns a probe row holding only the key columns.
func (k KeyCodec) Decode(pos Position) (types.Row, error) {
	row, n, err := types.DecodeRowOn(k.Schema, k.Cols, pos)
	if err != nil {
		return nil, err
	}
	if n != len(pos) {
		return nil, fmt.Errorf("position has %d trailing bytes", len(pos)-n)
	}
	return row, nil
}

// Compare orders two rows by key.
func (k KeyCodec) Compare(a, b types.Row) int {
	return types.CompareRowsOn(k.Schema, k.Cols, a, b)
}

// ComparePositions orders two encoded positions by key. Undecodable
// positions sort first.
func (k KeyCodec) ComparePositions(a, b Position) int {
	ra, errA := k.Decode(a)
	rb, errB := k.Decode(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return k.Compare(ra, rb)
}

// RowTree is the keyed, ordered row set behind the bundled backends.
// Every method is safe for concurrent use.
type RowTree struct {
	name  string
	keys  KeyCodec
	mu    sync.RWMutex
	tree  *btree.BTreeG[types.Row]
	bytes uint64
	mtime time.Time
}

// NewRowTree returns an empty tree. name is used in error messages.
func NewRowTree(name string, s *types.Schema) *RowTree {
	keys := NewKeyCodec(s)
	return &RowTree{
		name: name,
		keys: keys,
		tree: btree.NewG(treeDegree, func(a, b types.Row) bool { return keys.Compare(a, b) < 0 }),
	}
}

// Keys returns the key codec of the tree.
func (t *RowTree) Keys() KeyCodec { return t.keys }

func (t *RowTree) rowSize(row types.Row) uint64 {
	return uint64(len(types.AppendRow(nil, t.keys.Schema, row)))
}

func (t *RowTree) touch() { t.mtime = time.Now() }

// Insert adds a row. A row with the same key already present is an error.
func (t *RowTree) Insert(row types.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(row)
}

func (t *RowTree) insertLocked(row types.Row) error {
	if err := t.keys.Schema.CheckRow(row); err != nil {
		return err
	}
	if t.tree.Has(row) {
		return fmt.Errorf("duplicate key %s", t.describe(row))
	}
	t.tree.ReplaceOrInsert(row.Clone())
	t.bytes += t.rowSize(row)
	t.touch()
	return nil
}

// InsertAll adds rows atomically: either all are inserted or none.
func (t *RowTree) InsertAll(rows []types.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, row := range rows {
		if err := t.insertLocked(row); err != nil {
			for _, done := range rows[:i] {
				t.deleteLocked(done)
			}
			return err
		}
	}
	return nil
}

// Update replaces old with new. old must be present; when the key changes
// new must not collide with another row.
func (t *RowTree) Update(old, new types.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.keys.Schema.CheckRow(new); err != nil {
		return err
	}
	prev, ok := t.tree.Get(old)
	if !ok {
		return fmt.Errorf("row %s not found", t.describe(old))
	}
	if t.keys.Compare(old, new) != 0 && t.tree.Has(new) {
		return fmt.Errorf("duplicate key %s", t.describe(new))
	}
	t.tree.Delete(prev)
	t.bytes -= t.rowSize(prev)
	t.tree.ReplaceOrInsert(new.Clone())
	t.bytes += t.rowSize(new)
	t.touch()
	return nil
}

// Delete removes the row with the key of row.
func (t *RowTree) Delete(row types.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.deleteLocked(row) {
		return fmt.Errorf("row %s not found", t.describe(row))
	}
	return nil
}

func (t *RowTree) deleteLocked(row types.Row) bool {
	prev, ok := t.tree.Delete(row)
	if !ok {
		return false
	}
	t.bytes -= t.rowSize(prev)
	t.touch()
	return true
}

// Get returns the row with the key of probe.
func (t *RowTree) Get(probe types.Row) (types.Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.tree.Get(probe)
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Stats returns the row count, data size and last modification time.
func (t *RowTree) Stats() (rows, bytes uint64, mtime time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(t.tree.Len()), t.bytes, t.mtime
}

// Reset drops every row.
func (t *RowTree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Clear(false)
	t.bytes = 0
	t.touch()
}

// Ascend calls fn for every row in key order until fn returns false.
func (t *RowTree) Ascend(fn func(types.Row) bool) {
	t.mu.Lock()
	snap := t.tree.Clone()
	t.mu.Unlock()
	snap.Ascend(fn)
}

// Cursor returns a key-ordered cursor over a snapshot of the tree.
func (t *RowTree) Cursor() Cursor {
	t.mu.Lock()
	snap := t.tree.Clone()
	t.mu.Unlock()
	return &treeCursor{tree: snap, keys: t.keys}
}

func (t *RowTree) describe(row types.Row) string {
	parts := make([]string, len(t.keys.Cols))
	for i, c := range t.keys.Cols {
		parts[i] = types.ValueToString(t.keys.Schema.Columns[c].DataType, row[c])
	}
	return t.name + " (" + strings.Join(parts, ", ") + ")"
}

// treeCursor walks a snapshot in batches so that no callback outlives a
// Next call.
type treeCursor struct {
	tree   *btree.BTreeG[types.Row]
	keys   KeyCodec
	buf    []types.Row
	pos    int
	last   types.Row
	done   bool
	closed bool
}

func (c *treeCursor) Next() (types.Row, error) {
	if c.closed {
		return nil, fmt.Errorf("cursor is closed")
	}
	if c.pos >= len(c.buf) {
		if c.done {
			return nil, io.EOF
		}
		c.fill()
		if len(c.buf) == 0 {
			return nil, io.EOF
		}
	}
	row := c.buf[c.pos]
	c.pos++
	c.last = row
	return row.Clone(), nil
}

func (c *treeCursor) fill() {
	c.buf, c.pos = c.buf[:0], 0
	collect := func(r types.Row) bool {
		if c.last != nil && c.keys.Compare(r, c.last) <= 0 {
			return true
		}
		c.buf = append(c.buf, r)
		return len(c.buf) < cursorBatch
	}
	if c.last == nil {
		c.tree.Ascend(collect)
	} else {
		c.tree.AscendGreaterOrEqual(c.last, collect)
	}
	if len(c.buf) < cursorBatch {
		c.done = true
	}
}

func (c *treeCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
