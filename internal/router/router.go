// Package router maps rows to leaf partitions.
package router

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Router routes rows for one bound table. It holds no per-call state and
// is safe for concurrent use.
type Router struct {
	t       *partition.Table
	scratch sync.Pool
}

// keyScratch is the per-call state of KEY hashing.
type keyScratch struct {
	coll *collate.Collator
	buf  collate.Buffer
	enc  []byte
}

// New returns a router over t.
func New(t *partition.Table) *Router {
	r := &Router{t: t}
	r.scratch.New = func() any {
		return &keyScratch{coll: collate.New(language.Und, collate.IgnoreCase)}
	}
	return r
}

// Table returns the bound table the router serves.
func (r *Router) Table() *partition.Table { return r.t }

// Route returns the leaf id of a row.
func (r *Router) Route(row types.Row) (int, error) {
	part, err := r.RoutePart(row)
	if err != nil {
		return 0, err
	}
	if r.t.Sub == nil {
		return part, nil
	}
	sub, err := r.RouteSub(row)
	if err != nil {
		return 0, err
	}
	return r.t.LeafID(part, sub), nil
}

// RoutePart returns the top-level partition of a row.
func (r *Router) RoutePart(row types.Row) (int, error) {
	lvl := &r.t.Top
	switch lvl.Method.Kind {
	case partition.KindRange:
		if lvl.Method.Columns {
			return r.rangeTuple(tupleOf(lvl, row))
		}
		v, null, err := lvl.Expr.EvalInt(row)
		if errkind.Is(err, errkind.ErrAboveInt64) {
			return r.aboveInt64(lvl, row)
		}
		if err != nil {
			return 0, err
		}
		if null {
			return 0, nil
		}
		return r.RangeIndex(v)
	case partition.KindList:
		if lvl.Method.Columns {
			return r.listTuple(tupleOf(lvl, row))
		}
		v, null, err := lvl.Expr.EvalInt(row)
		if errkind.Is(err, errkind.ErrAboveInt64) {
			return r.aboveInt64(lvl, row)
		}
		if err != nil {
			return 0, err
		}
		if null {
			if r.t.NullPart < 0 {
				return 0, errkind.ErrNoMatchingPartition.New("NULL")
			}
			return r.t.NullPart, nil
		}
		return r.ListIndex(v)
	default:
		h, err := r.hashLevel(lvl, row)
		if err != nil {
			return 0, err
		}
		return HashIndex(h, r.t.NumParts, lvl.Method.Linear), nil
	}
}

// RouteSub returns the subpartition index of a row.
func (r *Router) RouteSub(row types.Row) (int, error) {
	if r.t.Sub == nil {
		return 0, nil
	}
	h, err := r.hashLevel(r.t.Sub, row)
	if err != nil {
		return 0, err
	}
	return HashIndex(h, r.t.NumSubs, r.t.Sub.Method.Linear), nil
}

func (r *Router) hashLevel(lvl *partition.Level, row types.Row) (uint64, error) {
	if lvl.Method.Kind == partition.KindKey {
		return uint64(r.KeyHash(lvl, row)), nil
	}
	v, null, err := lvl.Expr.EvalInt(row)
	if errkind.Is(err, errkind.ErrAboveInt64) {
		u, _, err := lvl.Expr.Eval(row)
		if err != nil {
			return 0, err
		}
		return u.(uint64), nil
	}
	if err != nil {
		return 0, err
	}
	if null {
		return 0, nil
	}
	return HashValue(v), nil
}

// aboveInt64 routes a RANGE or LIST value greater than every Int64. Only
// a RANGE table with a MAXVALUE partition can hold it.
func (r *Router) aboveInt64(lvl *partition.Level, row types.Row) (int, error) {
	if lvl.Method.Kind == partition.KindRange && r.t.RangeMax {
		return r.t.NumParts - 1, nil
	}
	v, _, err := lvl.Expr.Eval(row)
	if err != nil {
		return 0, err
	}
	return 0, errkind.ErrNoMatchingPartition.New(fmt.Sprint(v))
}

// RangeIndex returns the partition whose range holds v: the first
// partition with v < bound.
func (r *Router) RangeIndex(v int64) (int, error) {
	bounds := r.t.RangeBounds
	idx := sort.Search(len(bounds), func(i int) bool { return v < bounds[i] })
	if idx == len(bounds) {
		if r.t.RangeMax {
			return r.t.NumParts - 1, nil
		}
		return 0, errkind.ErrNoMatchingPartition.New(fmt.Sprint(v))
	}
	return idx, nil
}

// ListIndex returns the partition listing v.
func (r *Router) ListIndex(v int64) (int, error) {
	vals := r.t.ListValues
	idx := sort.Search(len(vals), func(i int) bool { return vals[i].Value >= v })
	if idx < len(vals) && vals[idx].Value == v {
		return vals[idx].Part, nil
	}
	return 0, errkind.ErrNoMatchingPartition.New(fmt.Sprint(v))
}

func tupleOf(lvl *partition.Level, row types.Row) []types.Value {
	t := make([]types.Value, len(lvl.Cols))
	for i, c := range lvl.Cols {
		t[i] = row[c]
	}
	return t
}

// RangeTupleIndex returns the first RANGE COLUMNS partition whose bound
// is greater than tuple, or len(bounds) when there is none.
func (r *Router) RangeTupleIndex(tuple []types.Value) int {
	bounds := r.t.RangeTuples
	dts := r.t.Top.ColTypes
	return sort.Search(len(bounds), func(i int) bool {
		return partition.CompareTuples(dts, tuple, bounds[i]) < 0
	})
}

func (r *Router) rangeTuple(tuple []types.Value) (int, error) {
	idx := r.RangeTupleIndex(tuple)
	if idx == len(r.t.RangeTuples) {
		return 0, errkind.ErrNoMatchingPartition.New(partition.FormatTuple(r.t.Top.ColTypes, tuple))
	}
	return idx, nil
}

func (r *Router) listTuple(tuple []types.Value) (int, error) {
	entries := r.t.ListTuples
	dts := r.t.Top.ColTypes
	idx := sort.Search(len(entries), func(i int) bool {
		return partition.CompareTuples(dts, entries[i].Tuple, tuple) >= 0
	})
	if idx < len(entries) && partition.CompareTuples(dts, entries[idx].Tuple, tuple) == 0 {
		return entries[idx].Part, nil
	}
	return 0, errkind.ErrNoMatchingPartition.New(partition.FormatTuple(dts, tuple))
}

// HashValue is the hash of a HASH partitioning expression value.
func HashValue(v int64) uint64 {
	if v < 0 {
		if v == math.MinInt64 {
			return uint64(math.MaxInt64) + 1
		}
		v = -v
	}
	return uint64(v)
}

// LinearMask returns the smallest 2^k - 1 that is >= n - 1.
func LinearMask(n int) uint64 {
	if n <= 1 {
		return 0
	}
	return 1<<bits.Len(uint(n-1)) - 1
}

// HashIndex reduces a hash to one of n partitions, with the plain modulo
// or the linear hashing rule.
func HashIndex(h uint64, n int, linear bool) int {
	if !linear {
		return int(h % uint64(n))
	}
	m := LinearMask(n)
	cand := h & m
	if cand >= uint64(n) {
		cand = h & (m >> 1)
	}
	return int(cand)
}

// KeyHash folds the KEY columns of a level into a 32-bit hash.
func (r *Router) KeyHash(lvl *partition.Level, row types.Row) uint32 {
	s := r.scratch.Get().(*keyScratch)
	defer func() {
		s.buf.Reset()
		s.enc = s.enc[:0]
		r.scratch.Put(s)
	}()

	var acc uint32
	for i, c := range lvl.Cols {
		h := xxhash.Sum64(s.encode(lvl.ColTypes[i], row[c]))
		acc = bits.RotateLeft32(acc, 5) ^ uint32(h) ^ uint32(h>>32)
		s.buf.Reset()
	}
	return acc
}

var nullMarker = []byte{0}

// encode returns the hashing bytes of one value. The result is only valid
// until the next call.
func (s *keyScratch) encode(dt types.DataType, v types.Value) []byte {
	if v == nil {
		return nullMarker
	}
	s.enc = s.enc[:0]
	switch {
	case dt == types.TypeString:
		return s.coll.KeyFromString(&s.buf, v.(string))
	case dt == types.TypeFloat32:
		return binary.BigEndian.AppendUint32(s.enc, math.Float32bits(v.(float32)))
	case dt == types.TypeFloat64:
		return binary.BigEndian.AppendUint64(s.enc, math.Float64bits(v.(float64)))
	case dt == types.TypeUInt64:
		return binary.BigEndian.AppendUint64(s.enc, v.(uint64))
	default:
		n, _ := types.ToInt64(dt, v)
		switch dt.FixedSize() {
		case 1:
			return append(s.enc, byte(n))
		case 2:
			return binary.BigEndian.AppendUint16(s.enc, uint16(n))
		case 4:
			return binary.BigEndian.AppendUint32(s.enc, uint32(n))
		default:
			return binary.BigEndian.AppendUint64(s.enc, uint64(n))
		}
	}
}
