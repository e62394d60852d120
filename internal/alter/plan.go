package alter

import (
	"github.com/harshithgowdakt/partdb/internal/ddllog"
	"github.com/harshithgowdakt/partdb/internal/partition"
)

// plan is the physical side of a partition.Change: which leaves are built,
// which are read and which go away.
type plan struct {
	base   string
	engine uint8
	old    *partition.Table
	new    *partition.Table

	// fresh are the new leaf ids built from scratch, sources the old leaf
	// ids whose rows are copied into them and removed the old leaf ids
	// that are deleted after the swap.
	fresh   []int
	sources []int
	removed []int
}

func newPlan(base string, old, nw *partition.Table, c *partition.Change) *plan {
	p := &plan{base: base, engine: old.Engine(), old: old, new: nw}
	for ni, src := range c.Source {
		if src >= 0 {
			continue
		}
		from, to := nw.PartitionLeaves(ni)
		for id := from; id < to; id++ {
			p.fresh = append(p.fresh, id)
		}
	}
	for oi, st := range c.OldStates {
		if st == partition.StateNormal {
			continue
		}
		from, to := old.PartitionLeaves(oi)
		for id := from; id < to; id++ {
			if st == partition.StateToBeReorganized {
				p.sources = append(p.sources, id)
			}
			p.removed = append(p.removed, id)
		}
	}
	return p
}

func (p *plan) leafPath(name string) string { return partition.LeafPath(p.base, name) }

func (p *plan) tmpPath(newID int) string {
	return p.leafPath(p.new.Leaves[newID].Name) + partition.TempSuffix
}

func (p *plan) finalPath(newID int) string { return p.leafPath(p.new.Leaves[newID].Name) }

func (p *plan) oldPath(oldID int) string { return p.leafPath(p.old.Leaves[oldID].Name) }

// collides reports whether a removed old leaf has the name of a new leaf,
// so that it has to be moved aside before the new leaf takes its place.
func (p *plan) collides(oldID int) bool {
	name := p.old.Leaves[oldID].Name
	for _, l := range p.new.Leaves {
		if l.Name == name {
			return true
		}
	}
	return false
}

// rollback undoes everything done before the swap. Every entry tolerates
// the target being absent, so the chain is safe at any point.
func (p *plan) rollback() []ddllog.Entry {
	var out []ddllog.Entry
	for _, id := range p.fresh {
		out = append(out, ddllog.Entry{Action: ddllog.ActionDelete, Engine: p.engine, Target: p.tmpPath(id)})
	}
	return append(out,
		ddllog.Entry{Action: ddllog.ActionDelete, Target: partition.ShadowPath(partition.ParPath(p.base))},
		ddllog.Entry{Action: ddllog.ActionDelete, Target: partition.ShadowPath(partition.DefPath(p.base))},
	)
}

// forward completes the operation after the swap: the shadow files
// replace the live ones, removed leaves that share a name with a new leaf
// are moved aside, the new leaves take their final names and the removed
// leaves are deleted.
func (p *plan) forward() []ddllog.Entry {
	par, def := partition.ParPath(p.base), partition.DefPath(p.base)
	out := []ddllog.Entry{
		{Action: ddllog.ActionReplace, Target: par, Source: partition.ShadowPath(par)},
		{Action: ddllog.ActionReplace, Target: def, Source: partition.ShadowPath(def)},
	}
	for _, id := range p.removed {
		if p.collides(id) {
			out = append(out, ddllog.Entry{Action: ddllog.ActionRename, Engine: p.engine,
				Source: p.oldPath(id), Target: p.oldPath(id) + partition.OldSuffix})
		}
	}
	for _, id := range p.fresh {
		out = append(out, ddllog.Entry{Action: ddllog.ActionRename, Engine: p.engine,
			Source: p.tmpPath(id), Target: p.finalPath(id)})
	}
	for _, id := range p.removed {
		target := p.oldPath(id)
		if p.collides(id) {
			target += partition.OldSuffix
		}
		out = append(out, ddllog.Entry{Action: ddllog.ActionDelete, Engine: p.engine, Target: target})
	}
	return out
}
