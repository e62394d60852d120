package pruner

import (
	"sort"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// selection is the set of partitions of one level that a rectangle can
// reach: a contiguous span, a sorted set, and the partition holding NULL.
type selection struct {
	from, to int // [from, to)
	set      []int
	null     int // -1 when absent
}

func allOf(n int) selection { return selection{from: 0, to: n, null: -1} }

func noneOf() selection { return selection{null: -1} }

func (s selection) covers(p int) bool {
	if p >= s.from && p < s.to {
		return true
	}
	i := sort.SearchInts(s.set, p)
	return i < len(s.set) && s.set[i] == p
}

func setOf(parts map[int]struct{}) selection {
	sel := noneOf()
	for p := range parts {
		sel.set = append(sel.set, p)
	}
	sort.Ints(sel.set)
	return sel
}

// WalkLimit is the widest interval that is enumerated value by value for
// a level with n partitions.
func WalkLimit(n int) uint64 {
	return uint64(max(32, 2*n))
}

// topSelection picks the strategy for the top level.
func (p *Pruner) topSelection(h Hyperrectangle) selection {
	t := p.t
	lvl := &t.Top
	n := t.NumParts
	switch {
	case lvl.Method.Columns && lvl.Method.Kind == partition.KindRange:
		return p.rangeColumns(h)
	case lvl.Method.Columns:
		return p.listColumns(h)
	case lvl.Method.Kind == partition.KindRange || lvl.Method.Kind == partition.KindList:
		if sel, ok := p.monotonic(h); ok {
			return sel
		}
	}
	if sel, ok := p.walk(lvl, h, n, p.r.RoutePart); ok {
		return sel
	}
	if sel, ok := p.points(lvl, h, n, p.r.RoutePart); ok {
		return sel
	}
	return allOf(n)
}

// subSelection returns the reachable subpartitions, or nil for all of them.
func (p *Pruner) subSelection(h Hyperrectangle) []int {
	t := p.t
	if t.Sub == nil {
		return nil
	}
	sel, ok := p.walk(t.Sub, h, t.NumSubs, p.r.RouteSub)
	if !ok {
		sel, ok = p.points(t.Sub, h, t.NumSubs, p.r.RouteSub)
	}
	if !ok {
		return nil
	}
	if sel.set == nil {
		return []int{}
	}
	return sel.set
}

// monotonic maps the endpoints of the column interval through an order
// preserving or reversing expression into a span of partitions.
func (p *Pruner) monotonic(h Hyperrectangle) (selection, bool) {
	t := p.t
	e := t.Top.Expr
	col := e.Column()
	if col < 0 || e.Monotonic == expr.NotMonotonic {
		return selection{}, false
	}
	dt := t.Schema.Columns[col].DataType
	if _, _, bounded := dt.IntBounds(); !bounded {
		return selection{}, false
	}
	r := h.get(col, dt)
	if r.IsFull() {
		return allOf(t.NumParts), true
	}

	sel := noneOf()
	lo, hi, ok := r.IntBounds()
	if ok {
		var (
			flo, fhi       int64
			loOpen, hiOpen = r.Left == nil, r.Right == nil
		)
		if !loOpen {
			v, null, err := e.EvalAt(types.FromInt64(dt, lo))
			if err != nil || null {
				return selection{}, false
			}
			flo = v
		}
		if !hiOpen {
			v, null, err := e.EvalAt(types.FromInt64(dt, hi))
			if err != nil || null {
				return selection{}, false
			}
			fhi = v
		}
		if e.Monotonic == expr.Decreasing {
			flo, fhi = fhi, flo
			loOpen, hiOpen = hiOpen, loOpen
		}
		if !loOpen && !hiOpen && flo > fhi {
			return selection{}, false
		}
		if t.Top.Method.Kind == partition.KindRange {
			sel.from, sel.to = p.rangeSpan(flo, loOpen, fhi, hiOpen)
		} else {
			sel = p.listSpan(flo, loOpen, fhi, hiOpen)
		}
		if e.NullOnNonNull {
			sel.null = p.nullPart()
		}
	}
	if r.WithNull {
		sel.null = p.nullPart()
	}
	return sel, true
}

// nullPart is where a NULL partitioning value goes.
func (p *Pruner) nullPart() int {
	if p.t.Top.Method.Kind == partition.KindRange {
		return 0
	}
	return p.t.NullPart
}

func (p *Pruner) rangeSpan(lo int64, loOpen bool, hi int64, hiOpen bool) (from, to int) {
	t := p.t
	bounds := t.RangeBounds
	search := func(v int64) int {
		return sort.Search(len(bounds), func(i int) bool { return v < bounds[i] })
	}
	from = 0
	if !loOpen {
		from = search(lo)
		if from == len(bounds) && !t.RangeMax {
			return 0, 0
		}
	}
	last := t.NumParts - 1
	if !hiOpen {
		last = min(search(hi), t.NumParts-1)
	}
	return from, last + 1
}

func (p *Pruner) listSpan(lo int64, loOpen bool, hi int64, hiOpen bool) selection {
	vals := p.t.ListValues
	start, end := 0, len(vals)
	if !loOpen {
		start = sort.Search(len(vals), func(i int) bool { return vals[i].Value >= lo })
	}
	if !hiOpen {
		end = sort.Search(len(vals), func(i int) bool { return vals[i].Value > hi })
	}
	parts := make(map[int]struct{})
	for i := start; i < end; i++ {
		parts[vals[i].Part] = struct{}{}
	}
	return setOf(parts)
}

// rangeColumns restricts a RANGE COLUMNS table by its first column. A row
// whose first value is v can only live in partitions whose bound starts
// at or after v and whose predecessor's bound starts at or before v.
func (p *Pruner) rangeColumns(h Hyperrectangle) selection {
	t := p.t
	col := t.Top.Cols[0]
	dt := t.Top.ColTypes[0]
	r := h.get(col, dt)
	n := t.NumParts
	if r.IsFull() {
		return allOf(n)
	}
	first := t.Top.ColTypes[:1]
	sel := noneOf()
	if !r.NoValues {
		from := 0
		if r.Left != nil {
			lo := []types.Value{r.Left}
			from = sort.Search(n, func(i int) bool {
				c := partition.CompareTuples(first, t.RangeTuples[i], lo)
				return c > 0 || (c == 0 && r.LeftIncluded)
			})
		}
		to := n
		if r.Right != nil {
			hi := []types.Value{r.Right}
			// partition i is reachable while bound[i-1][0] <= hi
			to = 1 + sort.Search(n-1, func(i int) bool {
				c := partition.CompareTuples(first, t.RangeTuples[i], hi)
				return c > 0 || (c == 0 && !r.RightIncluded)
			})
		}
		if from < to {
			sel.from, sel.to = from, to
		}
	}
	if r.WithNull {
		sel.null = 0
	}
	return sel
}

// listColumns keeps every LIST COLUMNS entry the rectangle can match.
func (p *Pruner) listColumns(h Hyperrectangle) selection {
	t := p.t
	parts := make(map[int]struct{})
	for _, entry := range t.ListTuples {
		match := true
		for i, col := range t.Top.Cols {
			if !h.get(col, t.Top.ColTypes[i]).Contains(entry.Tuple[i]) {
				match = false
				break
			}
		}
		if match {
			parts[entry.Part] = struct{}{}
		}
	}
	return setOf(parts)
}

type routeFunc func(types.Row) (int, error)

// levelColumns returns the columns a level's function reads.
func levelColumns(lvl *partition.Level) []int {
	if lvl.Expr != nil {
		return lvl.Expr.Columns
	}
	return lvl.Cols
}

// walk enumerates every value of a narrow integer interval on the single
// column a level depends on, and routes each one.
func (p *Pruner) walk(lvl *partition.Level, h Hyperrectangle, n int, route routeFunc) (selection, bool) {
	cols := levelColumns(lvl)
	if len(cols) != 1 {
		return selection{}, false
	}
	col := cols[0]
	dt := p.t.Schema.Columns[col].DataType
	r, ok := h[col]
	if _, _, bounded := dt.IntBounds(); !ok || !bounded {
		return selection{}, false
	}
	if !r.NoValues && (r.Left == nil || r.Right == nil) {
		return selection{}, false
	}

	parts := make(map[int]struct{})
	row := make(types.Row, len(p.t.Schema.Columns))
	add := func(v types.Value) bool {
		row[col] = v
		part, err := route(row)
		if err != nil {
			return errkind.Is(err, errkind.ErrNoMatchingPartition)
		}
		parts[part] = struct{}{}
		return true
	}

	if lo, hi, ok := r.IntBounds(); ok {
		if uint64(hi)-uint64(lo) >= WalkLimit(n) {
			return selection{}, false
		}
		for v := lo; ; v++ {
			if !add(types.FromInt64(dt, v)) {
				return selection{}, false
			}
			if v == hi {
				break
			}
		}
	}
	if r.WithNull && !add(nil) {
		return selection{}, false
	}
	return setOf(parts), true
}

// points routes the single row that a rectangle fixing every column of a
// level describes.
func (p *Pruner) points(lvl *partition.Level, h Hyperrectangle, n int, route routeFunc) (selection, bool) {
	cols := levelColumns(lvl)
	if len(cols) == 0 {
		return selection{}, false
	}
	row := make(types.Row, len(p.t.Schema.Columns))
	for _, col := range cols {
		r, ok := h[col]
		switch {
		case !ok:
			return selection{}, false
		case r.IsPoint():
			row[col] = r.Left
		case r.NoValues && r.WithNull:
			row[col] = nil
		default:
			return selection{}, false
		}
	}
	part, err := route(row)
	if err != nil {
		if errkind.Is(err, errkind.ErrNoMatchingPartition) {
			return noneOf(), true
		}
		return selection{}, false
	}
	if part < 0 || part >= n {
		return selection{}, false
	}
	return selection{set: []int{part}, null: -1}, true
}
