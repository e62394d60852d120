package pruner

import (
	"strings"

	"github.com/harshithgowdakt/partdb/internal/types"
)

// Range is a single-column interval of values. A nil Left means unbounded
// below, a nil Right unbounded above. WithNull says whether NULL belongs
// to the interval; NoValues says that no non-NULL value does.
type Range struct {
	Left          types.Value
	Right         types.Value
	LeftIncluded  bool
	RightIncluded bool
	NoValues      bool
	WithNull      bool
	DataType      types.DataType
}

// FullRange places no restriction on a column.
func FullRange(dt types.DataType) Range {
	return Range{WithNull: true, DataType: dt}
}

// PointRange holds exactly v.
func PointRange(dt types.DataType, v types.Value) Range {
	return Range{Left: v, Right: v, LeftIncluded: true, RightIncluded: true, DataType: dt}
}

// NullRange holds only NULL.
func NullRange(dt types.DataType) Range {
	return Range{NoValues: true, WithNull: true, DataType: dt}
}

// NotNullRange holds every non-NULL value.
func NotNullRange(dt types.DataType) Range {
	return Range{DataType: dt}
}

// EmptyRange holds nothing.
func EmptyRange(dt types.DataType) Range {
	return Range{NoValues: true, DataType: dt}
}

// opValueToRange converts "column op value" into a Range. NULL never
// satisfies a comparison.
func opValueToRange(op string, val types.Value, dt types.DataType) (Range, bool) {
	switch op {
	case "=":
		return PointRange(dt, val), true
	case ">":
		return Range{Left: val, DataType: dt}, true
	case ">=":
		return Range{Left: val, LeftIncluded: true, DataType: dt}, true
	case "<":
		return Range{Right: val, DataType: dt}, true
	case "<=":
		return Range{Right: val, RightIncluded: true, DataType: dt}, true
	}
	return Range{}, false
}

func flipOperator(op string) string {
	switch op {
	case "<":
		return ">"
	case ">":
		return "<"
	case "<=":
		return ">="
	case ">=":
		return "<="
	}
	return op
}

// IsFull reports an interval that restricts nothing.
func (r Range) IsFull() bool {
	return r.WithNull && !r.NoValues && r.Left == nil && r.Right == nil
}

// IsEmpty reports an interval that holds nothing.
func (r Range) IsEmpty() bool {
	return r.NoValues && !r.WithNull
}

// IsPoint reports an interval holding a single non-NULL value.
func (r Range) IsPoint() bool {
	return !r.NoValues && !r.WithNull && r.Left != nil && r.Right != nil &&
		r.LeftIncluded && r.RightIncluded && types.CompareValues(r.DataType, r.Left, r.Right) == 0
}

// Contains reports whether a value lies in the interval.
func (r Range) Contains(v types.Value) bool {
	if v == nil {
		return r.WithNull
	}
	if r.NoValues {
		return false
	}
	if r.Left != nil {
		c := types.CompareValues(r.DataType, v, r.Left)
		if c < 0 || (c == 0 && !r.LeftIncluded) {
			return false
		}
	}
	if r.Right != nil {
		c := types.CompareValues(r.DataType, v, r.Right)
		if c > 0 || (c == 0 && !r.RightIncluded) {
			return false
		}
	}
	return true
}

// Intersect returns r ∩ o.
func (r Range) Intersect(o Range) Range {
	out := Range{
		DataType: r.DataType,
		WithNull: r.WithNull && o.WithNull,
		NoValues: r.NoValues || o.NoValues,
	}
	if out.NoValues {
		return out
	}
	out.Left, out.LeftIncluded = r.Left, r.LeftIncluded
	if o.Left != nil {
		if out.Left == nil {
			out.Left, out.LeftIncluded = o.Left, o.LeftIncluded
		} else if c := types.CompareValues(r.DataType, o.Left, out.Left); c > 0 {
			out.Left, out.LeftIncluded = o.Left, o.LeftIncluded
		} else if c == 0 {
			out.LeftIncluded = out.LeftIncluded && o.LeftIncluded
		}
	}
	out.Right, out.RightIncluded = r.Right, r.RightIncluded
	if o.Right != nil {
		if out.Right == nil {
			out.Right, out.RightIncluded = o.Right, o.RightIncluded
		} else if c := types.CompareValues(r.DataType, o.Right, out.Right); c < 0 {
			out.Right, out.RightIncluded = o.Right, o.RightIncluded
		} else if c == 0 {
			out.RightIncluded = out.RightIncluded && o.RightIncluded
		}
	}
	if out.Left != nil && out.Right != nil {
		c := types.CompareValues(r.DataType, out.Left, out.Right)
		if c > 0 || (c == 0 && !(out.LeftIncluded && out.RightIncluded)) {
			out.NoValues = true
			out.Left, out.Right = nil, nil
		}
	}
	return out
}

// IntBounds returns the inclusive integer bounds of the non-NULL part of
// an integer interval, clamped to the domain of its type. ok is false for
// non-integer types, UInt64, and empty intervals.
func (r Range) IntBounds() (lo, hi int64, ok bool) {
	dlo, dhi, bounded := r.DataType.IntBounds()
	if !bounded || r.NoValues {
		return 0, 0, false
	}
	lo, hi = dlo, dhi
	if r.Left != nil {
		v, err := types.ToInt64(r.DataType, r.Left)
		if err != nil {
			return 0, 0, false
		}
		if !r.LeftIncluded {
			if v == dhi {
				return 0, 0, false
			}
			v++
		}
		lo = max(lo, v)
	}
	if r.Right != nil {
		v, err := types.ToInt64(r.DataType, r.Right)
		if err != nil {
			return 0, 0, false
		}
		if !r.RightIncluded {
			if v == dlo {
				return 0, 0, false
			}
			v--
		}
		hi = min(hi, v)
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

func (r Range) String() string {
	if r.IsEmpty() {
		return "∅"
	}
	var b strings.Builder
	if !r.NoValues {
		if r.LeftIncluded {
			b.WriteString("[")
		} else {
			b.WriteString("(")
		}
		if r.Left == nil {
			b.WriteString("-inf")
		} else {
			b.WriteString(types.ValueToString(r.DataType, r.Left))
		}
		b.WriteString(", ")
		if r.Right == nil {
			b.WriteString("+inf")
		} else {
			b.WriteString(types.ValueToString(r.DataType, r.Right))
		}
		if r.RightIncluded {
			b.WriteString("]")
		} else {
			b.WriteString(")")
		}
	}
	if r.WithNull {
		if b.Len() > 0 {
			b.WriteString(" ∪ ")
		}
		b.WriteString("NULL")
	}
	return b.String()
}

// Hyperrectangle restricts several columns at once, keyed by schema
// column index. Columns that are absent are unrestricted.
type Hyperrectangle map[int]Range

func (h Hyperrectangle) get(col int, dt types.DataType) Range {
	if r, ok := h[col]; ok {
		return r
	}
	return FullRange(dt)
}

// intersect returns h ∩ o, or false when the result is empty.
func (h Hyperrectangle) intersect(o Hyperrectangle) (Hyperrectangle, bool) {
	out := make(Hyperrectangle, len(h)+len(o))
	for c, r := range h {
		out[c] = r
	}
	for c, r := range o {
		if cur, ok := out[c]; ok {
			r = cur.Intersect(r)
		}
		if r.IsEmpty() {
			return nil, false
		}
		out[c] = r
	}
	return out, true
}
