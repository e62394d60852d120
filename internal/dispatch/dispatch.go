// Package dispatch presents the leaf partitions of a table as one table
// handle. Row operations are routed to a single leaf; scans fan out over
// the pruned leaves and ordered scans are merged on the table key.
package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/pruner"
	"github.com/harshithgowdakt/partdb/internal/router"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Handle is an open partitioned table. It owns one backend handler per
// leaf and is not shared between statements running concurrently.
type Handle struct {
	t      *partition.Table
	r      *router.Router
	p      *pruner.Pruner
	paths  []string
	leaves []backend.Handler
	log    *logrus.Entry

	// read is the set of leaves scans visit, lock the set of leaves
	// statements may lock and write. lock always contains read.
	read *partition.LeafSet
	lock *partition.LeafSet

	locked map[backend.LockMode][]int
	scan   Scanner
}

// LeafPaths returns the storage path of every leaf of t stored at base.
func LeafPaths(t *partition.Table, base string) []string {
	paths := make([]string, t.NumLeaves())
	for i, l := range t.Leaves {
		paths[i] = partition.LeafPath(base, l.Name)
	}
	return paths
}

// Open opens every leaf of the pruner's table stored at base.
func Open(p *pruner.Pruner, engines *backend.Registry, base string, mode backend.OpenMode, log *logrus.Entry) (*Handle, error) {
	return OpenAt(p, engines, LeafPaths(p.Table(), base), mode, log)
}

// OpenAt opens the leaves of the pruner's table at explicit paths, one per
// leaf id. When a leaf fails to open the leaves opened so far are closed.
func OpenAt(p *pruner.Pruner, engines *backend.Registry, paths []string, mode backend.OpenMode, log *logrus.Entry) (*Handle, error) {
	t := p.Table()
	if len(paths) != t.NumLeaves() {
		return nil, fmt.Errorf("got %d leaf paths for %d leaves", len(paths), t.NumLeaves())
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	engine, err := engines.ByID(t.Engine())
	if err != nil {
		return nil, errkind.ErrDefinition.New(err.Error())
	}
	for _, l := range t.Leaves {
		if l.Engine != engine.ID() {
			return nil, errkind.ErrDefinition.New("all partitions of a table must use the same engine")
		}
	}

	h := &Handle{
		t:      t,
		r:      p.Router(),
		p:      p,
		paths:  paths,
		leaves: make([]backend.Handler, t.NumLeaves()),
		log:    log.WithField("component", "dispatch"),
		read:   partition.AllLeaves(t.NumLeaves()),
		lock:   partition.AllLeaves(t.NumLeaves()),
		locked: make(map[backend.LockMode][]int),
	}
	for i, path := range paths {
		lh, err := engine.Open(path, t.Schema, mode)
		if err != nil {
			h.closeLeaves(i)
			return nil, err
		}
		h.leaves[i] = lh
	}
	return h, nil
}

func (h *Handle) closeLeaves(n int) error {
	var first error
	for i := 0; i < n; i++ {
		if h.leaves[i] == nil {
			continue
		}
		if err := h.leaves[i].Close(); err != nil && first == nil {
			first = err
		}
		h.leaves[i] = nil
	}
	return first
}

// Close closes the active scan and every leaf. The first error wins but
// every leaf is closed.
func (h *Handle) Close() error {
	var first error
	if h.scan != nil {
		first = h.scan.Close()
	}
	if err := h.closeLeaves(len(h.leaves)); err != nil && first == nil {
		first = err
	}
	return first
}

func (h *Handle) Table() *partition.Table { return h.t }
func (h *Handle) Router() *router.Router  { return h.r }
func (h *Handle) Pruner() *pruner.Pruner  { return h.p }

// Leaf returns the handler of a leaf.
func (h *Handle) Leaf(id int) backend.Handler { return h.leaves[id] }

// Path returns the storage path of a leaf.
func (h *Handle) Path(id int) string { return h.paths[id] }

// ReadSet returns the leaves the next scan visits.
func (h *Handle) ReadSet() *partition.LeafSet { return h.read.Clone() }

// LockSet returns the leaves the statement may lock and write.
func (h *Handle) LockSet() *partition.LeafSet { return h.lock.Clone() }

// UsePartitions applies a PARTITION (names) clause. An empty list selects
// every leaf.
func (h *Handle) UsePartitions(names []string) error {
	set, err := h.t.ResolveNames(names)
	if err != nil {
		return err
	}
	h.read, h.lock = set, set.Clone()
	return nil
}

// PruneReads narrows the read set to the leaves a WHERE condition can
// match and returns it.
func (h *Handle) PruneReads(where parser.Expression) *partition.LeafSet {
	h.read = h.p.Prune(where, h.lock)
	h.log.Debugf("pruned to %d of %d leaves: %s", h.read.Count(), h.t.NumLeaves(), h.read)
	return h.read.Clone()
}

// Route returns the leaf of a row, rejecting rows that route outside the
// lock set.
func (h *Handle) Route(row types.Row) (int, error) {
	leaf, err := h.r.Route(row)
	if err != nil {
		return 0, err
	}
	if !h.lock.Has(leaf) {
		return 0, errkind.ErrNoMatchingPartition.New(fmt.Sprintf("%s (partition %s is not selected)", h.describe(row), h.t.Leaves[leaf].Name))
	}
	return leaf, nil
}

func (h *Handle) describe(row types.Row) string {
	s := h.t.Schema
	out := "("
	for i, c := range s.KeyIndexes() {
		if i > 0 {
			out += ", "
		}
		out += types.ValueToString(s.Columns[c].DataType, row[c])
	}
	return out + ")"
}

// Write routes a row and writes it to its leaf. Backend errors are
// returned unchanged.
func (h *Handle) Write(row types.Row) error {
	leaf, err := h.Route(row)
	if err != nil {
		return err
	}
	return h.leaves[leaf].Write(row)
}

// Insert routes every row before writing any. With skip unset the first
// routing failure is returned and nothing is written; with skip set the
// unroutable rows are counted and left out. Rows are written one batch
// per leaf in leaf order.
func (h *Handle) Insert(rows []types.Row, skip bool) (written, skipped int, err error) {
	batches := make(map[int][]types.Row)
	for _, row := range rows {
		leaf, err := h.Route(row)
		if err != nil {
			if skip && errkind.Is(err, errkind.ErrNoMatchingPartition) {
				skipped++
				continue
			}
			return 0, 0, err
		}
		batches[leaf] = append(batches[leaf], row)
	}
	for leaf := range h.leaves {
		batch, ok := batches[leaf]
		if !ok {
			continue
		}
		if err := h.leaves[leaf].WriteBatch(batch); err != nil {
			return written, skipped, err
		}
		written += len(batch)
	}
	return written, skipped, nil
}

// Update replaces old with new. When new routes to another leaf it is
// written there first and old is deleted afterwards; a failed delete
// leaves the row in both leaves and is reported as ErrPartialMove.
func (h *Handle) Update(old, new types.Row) error {
	from, err := h.Route(old)
	if err != nil {
		return err
	}
	to, err := h.Route(new)
	if err != nil {
		return err
	}
	if from == to {
		return h.leaves[from].Update(old, new)
	}
	if err := h.leaves[to].Write(new); err != nil {
		return err
	}
	if err := h.leaves[from].Delete(old); err != nil {
		h.log.WithError(err).Errorf("row %s copied to %s but not removed from %s",
			h.describe(old), h.t.Leaves[to].Name, h.t.Leaves[from].Name)
		return fmt.Errorf("%w: %v", errkind.ErrPartialMove.New(h.t.Leaves[to].Name, h.t.Leaves[from].Name), err)
	}
	return nil
}

// Delete routes a row and deletes it from its leaf.
func (h *Handle) Delete(row types.Row) error {
	leaf, err := h.Route(row)
	if err != nil {
		return err
	}
	return h.leaves[leaf].Delete(row)
}

// Lock locks every leaf of the lock set in leaf order. When one leaf fails
// the leaves locked by this call are unlocked again.
func (h *Handle) Lock(ctx context.Context, mode backend.LockMode) error {
	var done []int
	for leaf, ok := h.lock.Next(0); ok; leaf, ok = h.lock.Next(leaf + 1) {
		if err := h.leaves[leaf].Lock(ctx, mode); err != nil {
			for _, l := range done {
				h.leaves[l].Unlock(mode)
			}
			return err
		}
		done = append(done, leaf)
	}
	h.locked[mode] = append(h.locked[mode], done...)
	return nil
}

// Unlock releases every lock taken in mode.
func (h *Handle) Unlock(mode backend.LockMode) {
	for _, leaf := range h.locked[mode] {
		h.leaves[leaf].Unlock(mode)
	}
	delete(h.locked, mode)
}

// Position identifies a row of the table.
type Position struct {
	Leaf  int
	Local backend.Position
}

// Position returns the position of a row read from leaf.
func (h *Handle) Position(leaf int, row types.Row) (Position, error) {
	local, err := h.leaves[leaf].Position(row)
	if err != nil {
		return Position{}, err
	}
	return Position{Leaf: leaf, Local: local}, nil
}

// ComparePositions orders positions by leaf and then by the leaf's own
// order.
func (h *Handle) ComparePositions(a, b Position) int {
	switch {
	case a.Leaf < b.Leaf:
		return -1
	case a.Leaf > b.Leaf:
		return 1
	}
	return h.leaves[a.Leaf].ComparePositions(a.Local, b.Local)
}

// Seek reads the row at a position.
func (h *Handle) Seek(pos Position) (types.Row, error) {
	if pos.Leaf < 0 || pos.Leaf >= len(h.leaves) {
		return nil, fmt.Errorf("position refers to leaf %d of %d", pos.Leaf, len(h.leaves))
	}
	return h.leaves[pos.Leaf].Seek(pos.Local)
}

// LeafStats is the state of one leaf.
type LeafStats struct {
	ID   int
	Name string
	backend.Stats
}

// LeafInfo returns the stats of every leaf in the read set.
func (h *Handle) LeafInfo() ([]LeafStats, error) {
	var out []LeafStats
	for leaf, ok := h.read.Next(0); ok; leaf, ok = h.read.Next(leaf + 1) {
		st, err := h.leaves[leaf].Info()
		if err != nil {
			return nil, err
		}
		out = append(out, LeafStats{ID: leaf, Name: h.t.Leaves[leaf].Name, Stats: st})
	}
	return out, nil
}

// Info aggregates the stats of the read set: counts add up, the update
// time is the latest one and capability flags hold only when every leaf
// has them.
func (h *Handle) Info() (backend.Stats, error) {
	leaves, err := h.LeafInfo()
	if err != nil {
		return backend.Stats{}, err
	}
	return Aggregate(leaves), nil
}

// Aggregate combines leaf stats.
func Aggregate(leaves []LeafStats) backend.Stats {
	agg := backend.Stats{OrderedScan: true, Durable: true}
	for _, l := range leaves {
		agg.Rows += l.Rows
		agg.DataBytes += l.DataBytes
		if l.UpdateTime.After(agg.UpdateTime) {
			agg.UpdateTime = l.UpdateTime
		}
		agg.OrderedScan = agg.OrderedScan && l.OrderedScan
		agg.Durable = agg.Durable && l.Durable
	}
	return agg
}
