// Package memstore is the in-memory storage backend. Leaves live as long
// as the Engine that created them.
package memstore

import (
	"context"
	"sync"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/types"
)

const (
	ID   uint8 = 1
	Name       = "Memory"
)

type leaf struct {
	rows *backend.RowTree
	gate *backend.Gate
}

// Engine stores every leaf in a B-tree keyed by the table key.
type Engine struct {
	mu     sync.Mutex
	leaves map[string]*leaf
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{leaves: make(map[string]*leaf)}
}

func (e *Engine) ID() uint8    { return ID }
func (e *Engine) Name() string { return Name }

func (e *Engine) Create(path string, schema *types.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.leaves[path]; ok {
		return backend.ErrLeafExists.New(path)
	}
	e.leaves[path] = &leaf{rows: backend.NewRowTree(path, schema), gate: backend.NewGate()}
	return nil
}

func (e *Engine) Open(path string, schema *types.Schema, mode backend.OpenMode) (backend.Handler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.leaves[path]
	if !ok {
		return nil, backend.ErrLeafNotFound.New(path)
	}
	return &handler{path: path, leaf: l, mode: mode, held: make(map[backend.LockMode]int)}, nil
}

func (e *Engine) Drop(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.leaves[path]; !ok {
		return backend.ErrLeafNotFound.New(path)
	}
	delete(e.leaves, path)
	return nil
}

func (e *Engine) Rename(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.leaves[from]
	if !ok {
		return backend.ErrLeafNotFound.New(from)
	}
	if _, taken := e.leaves[to]; taken {
		return backend.ErrLeafExists.New(to)
	}
	delete(e.leaves, from)
	e.leaves[to] = l
	return nil
}

func (e *Engine) Exists(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.leaves[path]
	return ok
}

type handler struct {
	path string
	leaf *leaf
	mode backend.OpenMode

	mu     sync.Mutex
	held   map[backend.LockMode]int
	closed bool
}

func (h *handler) fail(err error) error {
	return errkind.ErrBackend.New(h.path, err.Error())
}

func (h *handler) writable() error {
	if h.closed {
		return errkind.ErrBackend.New(h.path, "handle is closed")
	}
	if h.mode == backend.ReadOnly {
		return errkind.ErrBackend.New(h.path, "opened read-only")
	}
	return nil
}

func (h *handler) Write(row types.Row) error {
	if err := h.writable(); err != nil {
		return err
	}
	if err := h.leaf.rows.Insert(row); err != nil {
		return h.fail(err)
	}
	return nil
}

func (h *handler) WriteBatch(rows []types.Row) error {
	if err := h.writable(); err != nil {
		return err
	}
	if err := h.leaf.rows.InsertAll(rows); err != nil {
		return h.fail(err)
	}
	return nil
}

func (h *handler) Update(old, new types.Row) error {
	if err := h.writable(); err != nil {
		return err
	}
	if err := h.leaf.rows.Update(old, new); err != nil {
		return h.fail(err)
	}
	return nil
}

func (h *handler) Delete(row types.Row) error {
	if err := h.writable(); err != nil {
		return err
	}
	if err := h.leaf.rows.Delete(row); err != nil {
		return h.fail(err)
	}
	return nil
}

func (h *handler) Scan(ordered bool) (backend.Cursor, error) {
	if h.closed {
		return nil, errkind.ErrBackend.New(h.path, "handle is closed")
	}
	return h.leaf.rows.Cursor(), nil
}

func (h *handler) Seek(pos backend.Position) (types.Row, error) {
	probe, err := h.leaf.rows.Keys().Decode(pos)
	if err != nil {
		return nil, h.fail(err)
	}
	row, ok := h.leaf.rows.Get(probe)
	if !ok {
		return nil, errkind.ErrBackend.New(h.path, "no row at position")
	}
	return row, nil
}

func (h *handler) Position(row types.Row) (backend.Position, error) {
	return h.leaf.rows.Keys().Encode(row), nil
}

func (h *handler) ComparePositions(a, b backend.Position) int {
	return h.leaf.rows.Keys().ComparePositions(a, b)
}

func (h *handler) Lock(ctx context.Context, mode backend.LockMode) error {
	if err := h.leaf.gate.Acquire(ctx, mode); err != nil {
		return errkind.ErrBackend.New(h.path, "lock wait timeout: "+err.Error())
	}
	h.mu.Lock()
	h.held[mode]++
	h.mu.Unlock()
	return nil
}

func (h *handler) Unlock(mode backend.LockMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held[mode] == 0 {
		return
	}
	h.held[mode]--
	h.leaf.gate.Release(mode)
}

func (h *handler) Info() (backend.Stats, error) {
	rows, bytes, mtime := h.leaf.rows.Stats()
	return backend.Stats{Rows: rows, DataBytes: bytes, UpdateTime: mtime, OrderedScan: true}, nil
}

// Close releases every lock the handle still holds.
func (h *handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for mode, n := range h.held {
		for ; n > 0; n-- {
			h.leaf.gate.Release(mode)
		}
		h.held[mode] = 0
	}
	h.closed = true
	return nil
}
