package catalog

import (
	"sync/atomic"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/pruner"
	"github.com/harshithgowdakt/partdb/internal/router"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Snapshot is one immutable version of a table's definition. An
// alteration builds a new Snapshot; statements that started before keep
// the one they were given.
type Snapshot struct {
	Meta   *Meta
	Schema *types.Schema
	Table  *partition.Table
	Pruner *pruner.Pruner
}

func newSnapshot(meta *Meta, cacheSize int) (*Snapshot, error) {
	schema, err := meta.Schema()
	if err != nil {
		return nil, err
	}
	tbl, err := partition.Bind(meta.Partition, schema)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Meta: meta, Schema: schema, Table: tbl, Pruner: pruner.New(router.New(tbl), cacheSize)}, nil
}

// share is the catalog's state for one table: the live snapshot and the
// gate statements and alterations synchronize on. Fields other than snap
// are guarded by Catalog.mu.
type share struct {
	name string
	base string
	gate *backend.Gate
	snap atomic.Pointer[Snapshot]

	// disabled is set when recovery failed; only DROP TABLE is allowed.
	disabled error
	// gone is set once the table was dropped or renamed away.
	gone bool
	refs int
}

func newShare(name, base string, snap *Snapshot) *share {
	s := &share{name: name, base: base, gate: backend.NewGate()}
	if snap != nil {
		s.snap.Store(snap)
	}
	return s
}

// Ref is a counted reference to a table, holding a shared slot of its gate
// until Release. It pins the snapshot current at acquisition.
type Ref struct {
	c    *Catalog
	s    *share
	snap *Snapshot
	done bool
}

func (r *Ref) Name() string { return r.s.name }

// Base is the storage path prefix of the table.
func (r *Ref) Base() string { return r.s.base }

func (r *Ref) Snapshot() *Snapshot { return r.snap }

// Open opens every leaf of the pinned snapshot.
func (r *Ref) Open(mode backend.OpenMode) (*dispatch.Handle, error) {
	return dispatch.Open(r.snap.Pruner, r.c.engines, r.s.base, mode, r.c.log.WithField("table", r.s.name))
}

// Release gives back the gate slot. It is safe to call more than once.
func (r *Ref) Release() {
	if r.done {
		return
	}
	r.done = true
	r.s.gate.Release(backend.LockShared)
	r.c.unref(r.s)
}
