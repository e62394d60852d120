// Package pruner maps WHERE conditions and value intervals to the leaf
// partitions that can hold matching rows. Every result is a superset of
// the true matches.
package pruner

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/router"
)

// DefaultCacheSize is the number of analyzed conditions a Pruner keeps.
const DefaultCacheSize = 128

// Pruner prunes over one bound table snapshot. It is safe for concurrent
// use; the cache is keyed by the SQL text of the condition.
type Pruner struct {
	t     *partition.Table
	r     *router.Router
	cache *lru.Cache[string, *partition.LeafSet]
}

// New returns a pruner over the router's table. cacheSize <= 0 disables
// the cache.
func New(r *router.Router, cacheSize int) *Pruner {
	p := &Pruner{t: r.Table(), r: r}
	if cacheSize > 0 {
		p.cache, _ = lru.New[string, *partition.LeafSet](cacheSize)
	}
	return p
}

// Table returns the pruned table.
func (p *Pruner) Table() *partition.Table { return p.t }

// Router returns the router the pruner walks with.
func (p *Pruner) Router() *router.Router { return p.r }

// PruneInterval returns the leaves that can hold a row whose column col
// lies in r, restricted to read (nil means every leaf).
func (p *Pruner) PruneInterval(col int, r Range, read *partition.LeafSet) *Iterator {
	if r.IsEmpty() {
		return newIterator(p.t, noneOf(), nil, read)
	}
	return p.rectIterator(Hyperrectangle{col: r}, read)
}

func (p *Pruner) rectIterator(h Hyperrectangle, read *partition.LeafSet) *Iterator {
	return newIterator(p.t, p.topSelection(h), p.subSelection(h), read)
}

// Analyze returns the leaves a WHERE condition can match. A nil condition
// matches every leaf. The returned set is owned by the caller.
func (p *Pruner) Analyze(where parser.Expression) *partition.LeafSet {
	if where == nil {
		return partition.AllLeaves(p.t.NumLeaves())
	}
	key := parser.ExprToSQL(where)
	if p.cache != nil {
		if set, ok := p.cache.Get(key); ok {
			return set.Clone()
		}
	}

	set := partition.NewLeafSet(p.t.NumLeaves())
	for _, h := range NewCondition(where, p.t.Schema).Rectangles() {
		set = set.Union(Collect(p.rectIterator(h, nil)))
		if set.Full() {
			break
		}
	}
	if p.cache != nil {
		p.cache.Add(key, set.Clone())
	}
	return set
}

// Prune intersects the leaves a condition can match with read.
func (p *Pruner) Prune(where parser.Expression, read *partition.LeafSet) *partition.LeafSet {
	set := p.Analyze(where)
	if read == nil {
		return set
	}
	return set.Intersect(read)
}
