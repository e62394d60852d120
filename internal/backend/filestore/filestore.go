// Package filestore is the on-disk storage backend. A leaf is one
// append-only log of compressed, checksummed record frames that is
// replayed into an in-memory index on open.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/compression"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/types"
)

const (
	ID   uint8 = 2
	Name       = "File"
)

// Engine stores leaves as log files. Open leaves are shared between
// handles on the same path.
type Engine struct {
	codec compression.Codec
	log   *logrus.Entry

	mu     sync.Mutex
	leaves map[string]*leaf
}

// New returns an engine writing blocks with codec.
func New(codec compression.Codec, log *logrus.Entry) *Engine {
	if codec == nil {
		codec = &compression.LZ4Codec{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{codec: codec, log: log.WithField("engine", Name), leaves: make(map[string]*leaf)}
}

func (e *Engine) ID() uint8    { return ID }
func (e *Engine) Name() string { return Name }

func (e *Engine) Create(path string, schema *types.Schema) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return backend.ErrLeafExists.New(path)
	}
	if err != nil {
		return errors.Wrapf(err, "creating leaf %s", path)
	}
	defer f.Close()
	if _, err := f.Write(magic); err != nil {
		return errors.Wrapf(err, "writing leaf header %s", path)
	}
	return errors.Wrapf(f.Sync(), "syncing leaf %s", path)
}

func (e *Engine) Open(path string, schema *types.Schema, mode backend.OpenMode) (backend.Handler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.leaves[path]
	if !ok {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, backend.ErrLeafNotFound.New(path)
		}
		var err error
		l, err = openLeaf(path, schema, e.codec, e.log)
		if err != nil {
			return nil, err
		}
		e.leaves[path] = l
	}
	l.refs++
	return &handler{engine: e, leaf: l, mode: mode, held: make(map[backend.LockMode]int)}, nil
}

// release drops one reference to a leaf and closes its file with the last.
func (e *Engine) release(l *leaf) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l.refs--
	if l.refs > 0 {
		return nil
	}
	if cur, ok := e.leaves[l.path]; ok && cur == l {
		delete(e.leaves, l.path)
	}
	return l.close()
}

func (e *Engine) Drop(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.leaves[path]; ok {
		l.markDropped()
		delete(e.leaves, path)
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return backend.ErrLeafNotFound.New(path)
	}
	os.Remove(tmpPath(path))
	return errors.Wrapf(err, "removing leaf %s", path)
}

func (e *Engine) Rename(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := os.Stat(from); os.IsNotExist(err) {
		return backend.ErrLeafNotFound.New(from)
	}
	if _, err := os.Stat(to); err == nil {
		return backend.ErrLeafExists.New(to)
	}
	if err := os.Rename(from, to); err != nil {
		return errors.Wrapf(err, "renaming leaf %s to %s", from, to)
	}
	if l, ok := e.leaves[from]; ok {
		delete(e.leaves, from)
		l.setPath(to)
		e.leaves[to] = l
	}
	return nil
}

func (e *Engine) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type handler struct {
	engine *Engine
	leaf   *leaf
	mode   backend.OpenMode

	mu     sync.Mutex
	held   map[backend.LockMode]int
	closed bool
}

func (h *handler) check(write bool) error {
	if h.closed {
		return errkind.ErrBackend.New(h.leaf.name(), "handle is closed")
	}
	if write && h.mode == backend.ReadOnly {
		return errkind.ErrBackend.New(h.leaf.name(), "opened read-only")
	}
	return nil
}

func (h *handler) Write(row types.Row) error {
	return h.WriteBatch([]types.Row{row})
}

func (h *handler) WriteBatch(rows []types.Row) error {
	if err := h.check(true); err != nil {
		return err
	}
	return h.leaf.apply(opPut, rows, func() error { return h.leaf.rows.InsertAll(rows) })
}

func (h *handler) Update(old, new types.Row) error {
	if err := h.check(true); err != nil {
		return err
	}
	return h.leaf.applyRecords([]record{{opDel, old}, {opPut, new}}, func() error { return h.leaf.rows.Update(old, new) })
}

func (h *handler) Delete(row types.Row) error {
	if err := h.check(true); err != nil {
		return err
	}
	return h.leaf.apply(opDel, []types.Row{row}, func() error { return h.leaf.rows.Delete(row) })
}

func (h *handler) Scan(ordered bool) (backend.Cursor, error) {
	if err := h.check(false); err != nil {
		return nil, err
	}
	return h.leaf.rows.Cursor(), nil
}

func (h *handler) Seek(pos backend.Position) (types.Row, error) {
	probe, err := h.leaf.rows.Keys().Decode(pos)
	if err != nil {
		return nil, errkind.ErrBackend.New(h.leaf.name(), err.Error())
	}
	row, ok := h.leaf.rows.Get(probe)
	if !ok {
		return nil, errkind.ErrBackend.New(h.leaf.name(), "no row at position")
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
		return errkind.ErrBackend.New(h.leaf.name(), "lock wait timeout: "+err.Error())
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
	rows, _, mtime := h.leaf.rows.Stats()
	size, err := h.leaf.size()
	if err != nil {
		return backend.Stats{}, errkind.ErrBackend.New(h.leaf.name(), err.Error())
	}
	return backend.Stats{Rows: rows, DataBytes: uint64(size), UpdateTime: mtime, OrderedScan: true, Durable: true}, nil
}

func (h *handler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	for mode, n := range h.held {
		for ; n > 0; n-- {
			h.leaf.gate.Release(mode)
		}
		h.held[mode] = 0
	}
	h.closed = true
	h.mu.Unlock()
	return h.engine.release(h.leaf)
}
