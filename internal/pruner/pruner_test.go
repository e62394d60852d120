package pruner

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/router"
	"github.com/harshithgowdakt/partdb/internal/types"
)

func newPruner(t *testing.T, sql string) *Pruner {
	t.Helper()
	stmt, err := parser.ParseSQL(sql)
	require.NoError(t, err)
	ct := stmt.(*parser.CreateTableStmt)
	schema := &types.Schema{OrderBy: ct.OrderBy}
	for _, c := range ct.Columns {
		dt, nullable, err := types.ParseColumnType(c.TypeName)
		require.NoError(t, err)
		schema.Columns = append(schema.Columns, types.ColumnDef{Name: c.Name, DataType: dt, Nullable: nullable})
	}
	def, err := partition.FromAST(ct.Partition, schema, 1, nil)
	require.NoError(t, err)
	tbl, err := partition.Bind(def, schema)
	require.NoError(t, err)
	return New(router.New(tbl), DefaultCacheSize)
}

const e2eSQL = `CREATE TABLE r (k Nullable(Int64)) PARTITION BY RANGE (k) (
	PARTITION p0 VALUES LESS THAN (100),
	PARTITION p1 VALUES LESS THAN (200),
	PARTITION p2 VALUES LESS THAN MAXVALUE)`

func between(lo, hi int64) Range {
	return Range{Left: lo, Right: hi, LeftIncluded: true, RightIncluded: true, DataType: types.TypeInt64}
}

func leaves(it *Iterator) []int {
	var out []int
	for leaf, ok := it.Next(); ok; leaf, ok = it.Next() {
		out = append(out, leaf)
	}
	return out
}

func TestPruneIntervalRange(t *testing.T) {
	p := newPruner(t, e2eSQL)
	tests := []struct {
		name string
		r    Range
		want []int
	}{
		{"inside p0", between(50, 90), []int{0}},
		{"p0 into p1", between(50, 120), []int{0, 1}},
		{"p1 into p2", between(150, 250), []int{1, 2}},
		{"open above", Range{Left: int64(200), LeftIncluded: true, DataType: types.TypeInt64}, []int{2}},
		{"exclusive bound", Range{Right: int64(100), DataType: types.TypeInt64}, []int{0}},
		{"null only", NullRange(types.TypeInt64), []int{0}},
		{"values and null", Range{Left: int64(300), LeftIncluded: true, WithNull: true, DataType: types.TypeInt64}, []int{2, 0}},
		{"empty", EmptyRange(types.TypeInt64), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leaves(p.PruneInterval(0, tt.r, nil)))
		})
	}
}

func TestIteratorResetAndNullOnce(t *testing.T) {
	p := newPruner(t, `CREATE TABLE l (k Nullable(Int32)) PARTITION BY LIST (k) (
		PARTITION a VALUES IN (1, NULL), PARTITION b VALUES IN (2))`)
	r := Range{Left: int32(1), Right: int32(2), LeftIncluded: true, RightIncluded: true, WithNull: true, DataType: types.TypeInt32}
	it := p.PruneInterval(0, r, nil)
	first := leaves(it)
	assert.ElementsMatch(t, []int{0, 1}, first)
	assert.Len(t, first, 2)

	it.Reset()
	assert.Equal(t, first, leaves(it))
}

func TestPruneIntervalRespectsReadSet(t *testing.T) {
	p := newPruner(t, e2eSQL)
	read := partition.NewLeafSet(3)
	read.Add(1)
	assert.Equal(t, []int{1}, leaves(p.PruneInterval(0, between(50, 250), read)))
}

func TestAnalyzeWhere(t *testing.T) {
	p := newPruner(t, e2eSQL)
	tests := []struct {
		where string
		want  []int
	}{
		{"k = 5 OR k = 250", []int{0, 2}},
		{"k >= 150 AND k <= 250", []int{1, 2}},
		{"k BETWEEN 50 AND 90", []int{0}},
		{"150 < k", []int{1, 2}},
		{"k IN (1, 2, 120)", []int{0, 1}},
		{"k IS NULL", []int{0}},
		{"k != 5", []int{0, 1, 2}},
		{"NOT (k = 5)", []int{0, 1, 2}},
		{"k > 500 AND k < 100", []int{}},
		{"k = NULL", []int{}},
		{"k = 100 + 50", []int{1}},
		{"k + 1 = 5", []int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			where, err := parser.ParseExpression(tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Analyze(where).Slice())
			// second call is served from the cache
			assert.Equal(t, tt.want, p.Analyze(where).Slice())
		})
	}
	assert.Equal(t, []int{0, 1, 2}, p.Analyze(nil).Slice())
}

func TestAnalyzeHashAndSubpartitions(t *testing.T) {
	p := newPruner(t, `CREATE TABLE h (id Int64, v Int64) PARTITION BY HASH (id) PARTITIONS 4`)
	where, err := parser.ParseExpression("id = 6 AND v > 3")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, p.Analyze(where).Slice())

	where, err = parser.ParseExpression("id IN (1, 5)")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, p.Analyze(where).Slice())

	p = newPruner(t, `CREATE TABLE s (a Int32, b Int32) PARTITION BY RANGE (a)
		SUBPARTITION BY HASH (b) SUBPARTITIONS 3 (
		PARTITION p0 VALUES LESS THAN (10),
		PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	where, err = parser.ParseExpression("a = 50 AND b = 7")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, p.Analyze(where).Slice())

	where, err = parser.ParseExpression("a < 5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, p.Analyze(where).Slice())
}

func TestAnalyzeKeyPoints(t *testing.T) {
	p := newPruner(t, `CREATE TABLE k (name String, n Int32) PARTITION BY KEY (name, n) PARTITIONS 5`)
	row := types.Row{"alpha", int32(3)}
	want, err := p.r.Route(row)
	require.NoError(t, err)

	where, err := parser.ParseExpression("name = 'alpha' AND n = 3")
	require.NoError(t, err)
	assert.Equal(t, []int{want}, p.Analyze(where).Slice())

	where, err = parser.ParseExpression("name = 'alpha'")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Analyze(where).Count())
}

func TestAnalyzeColumns(t *testing.T) {
	p := newPruner(t, `CREATE TABLE c (a Int32, b String) PARTITION BY RANGE COLUMNS (a, b) (
		PARTITION p0 VALUES LESS THAN (10, 'm'),
		PARTITION p1 VALUES LESS THAN (20, MAXVALUE),
		PARTITION p2 VALUES LESS THAN (MAXVALUE, MAXVALUE))`)
	tests := []struct {
		where string
		want  []int
	}{
		{"a = 10", []int{0, 1}},
		{"a < 10", []int{0}},
		{"a > 20", []int{2}},
		{"a >= 11 AND a <= 19", []int{1}},
		{"b = 'x'", []int{0, 1, 2}},
	}
	for _, tt := range tests {
		where, err := parser.ParseExpression(tt.where)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Analyze(where).Slice(), tt.where)
	}

	p = newPruner(t, `CREATE TABLE lc (a Int32, b String) PARTITION BY LIST COLUMNS (a, b) (
		PARTITION x VALUES IN ((1, 'a'), (2, 'b')),
		PARTITION y VALUES IN ((1, 'b'), (3, 'c')))`)
	where, err := parser.ParseExpression("a = 1 AND b = 'b'")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, p.Analyze(where).Slice())
	where, err = parser.ParseExpression("a = 1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, p.Analyze(where).Slice())
}

// Every row that lies in an interval must be routed to a leaf the pruner
// returns for that interval.
func TestPruneSoundness(t *testing.T) {
	tables := []string{
		e2eSQL,
		`CREATE TABLE d (k Nullable(Int64)) PARTITION BY RANGE (intDiv(k, 10)) (
			PARTITION p0 VALUES LESS THAN (5), PARTITION p1 VALUES LESS THAN (20), PARTITION p2 VALUES LESS THAN MAXVALUE)`,
		`CREATE TABLE n (k Nullable(Int64)) PARTITION BY RANGE (0 - k) (
			PARTITION p0 VALUES LESS THAN (-300), PARTITION p1 VALUES LESS THAN (-100), PARTITION p2 VALUES LESS THAN MAXVALUE)`,
		`CREATE TABLE m (k Nullable(Int64)) PARTITION BY LIST (mod(k, 5)) (
			PARTITION a VALUES IN (0, 1, NULL), PARTITION b VALUES IN (2, 3), PARTITION c VALUES IN (4, -1, -2, -3, -4))`,
		`CREATE TABLE h (k Nullable(Int64)) PARTITION BY LINEAR HASH (k) PARTITIONS 6`,
		`CREATE TABLE y (k Nullable(Int64)) PARTITION BY KEY (k) PARTITIONS 3`,
		`CREATE TABLE s (k Nullable(Int64)) PARTITION BY RANGE (k) SUBPARTITION BY HASH (k * 3) SUBPARTITIONS 2 (
			PARTITION p0 VALUES LESS THAN (0), PARTITION p1 VALUES LESS THAN (250))`,
		`CREATE TABLE w (k Nullable(Int64)) PARTITION BY RANGE (k * 2) (
			PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN MAXVALUE)`,
		`CREATE TABLE v (k Nullable(Int64)) PARTITION BY RANGE (k + 4611686018427387904) (
			PARTITION p0 VALUES LESS THAN (0), PARTITION p1 VALUES LESS THAN (4611686018427388004),
			PARTITION p2 VALUES LESS THAN MAXVALUE)`,
	}
	rng := rand.New(rand.NewSource(7))
	for _, sql := range tables {
		p := newPruner(t, sql)
		type routed struct {
			k    types.Value
			leaf int
		}
		var rows []routed
		for i := 0; i < 400; i++ {
			var k types.Value = rng.Int63n(900) - 300
			switch {
			case i%50 == 0:
				k = nil
			case i%10 == 0:
				k = extremes[rng.Intn(len(extremes))]
			}
			leaf, err := p.r.Route(types.Row{k})
			if errkind.Is(err, errkind.ErrNoMatchingPartition) || errkind.Is(err, errkind.ErrOutOfRange) {
				continue
			}
			require.NoError(t, err)
			rows = append(rows, routed{k, leaf})
		}

		for i := 0; i < 300; i++ {
			r := randomRange(rng)
			got := Collect(p.PruneInterval(0, r, nil))
			for _, row := range rows {
				if r.Contains(row.k) {
					require.True(t, got.Has(row.leaf), "%s: interval %s lost k=%v in leaf %d (got %s)", sql, r, row.k, row.leaf, got)
				}
			}
		}
	}
}

// extremes are values whose images under k * 2 and k + c sit at or past
// the edges of Int64.
var extremes = []int64{
	math.MinInt64, math.MinInt64 + 1, -(1 << 62) - 1, -(1 << 62), 1<<62 - 1, 1 << 62, math.MaxInt64 - 1, math.MaxInt64,
}

func randomRange(rng *rand.Rand) Range {
	r := Range{DataType: types.TypeInt64, WithNull: rng.Intn(4) == 0}
	lo := rng.Int63n(900) - 300
	hi := lo + rng.Int63n(300)
	if rng.Intn(6) == 0 {
		lo = extremes[rng.Intn(len(extremes)/2)]
	}
	if rng.Intn(6) == 0 {
		hi = extremes[len(extremes)/2+rng.Intn(len(extremes)/2)]
	}
	if rng.Intn(5) != 0 {
		r.Left, r.LeftIncluded = lo, rng.Intn(2) == 0
	}
	if rng.Intn(5) != 0 {
		r.Right, r.RightIncluded = hi, rng.Intn(2) == 0
	}
	if rng.Intn(8) == 0 {
		r.Right, r.RightIncluded = lo, true
		r.Left, r.LeftIncluded = lo, true
	}
	return r
}

func int64s(vs ...int64) []types.Value {
	out := make([]types.Value, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func uint64s(vs ...uint64) []types.Value {
	out := make([]types.Value, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// Every storable row a WHERE clause matches must sit in a leaf the pruner
// keeps for that clause, including string constants against numeric
// columns, numbers against String columns, expressions that overflow at
// the interval ends and UInt64 values above the Int64 range.
func TestAnalyzeSoundness(t *testing.T) {
	tests := []struct {
		sql    string
		rows   []types.Value
		consts []string
	}{
		{
			sql: `CREATE TABLE a (k Int64) PARTITION BY RANGE (k) (
				PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN MAXVALUE)`,
			rows:   int64s(-5, 0, 2, 9, 10, 11, 100, math.MaxInt64, math.MinInt64),
			consts: []string{"2", "'2'", "10", "'10'", "'9'", "'010'", "'-5'", "'1e1'", "'abc'", "9223372036854775807", "'9223372036854775808'"},
		},
		{
			sql: `CREATE TABLE m (k Int64) PARTITION BY RANGE (k * 2) (
				PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN MAXVALUE)`,
			rows:   int64s(-3, 0, 4, 5, 6, 1<<62-1, -(1 << 62), 1<<62, math.MaxInt64),
			consts: []string{"0", "5", "'5'", "-4611686018427387905", "4611686018427387903", "4611686018427387904", "9223372036854775807"},
		},
		{
			sql: `CREATE TABLE d (k Int64) PARTITION BY LIST (0 - k) (
				PARTITION p0 VALUES IN (0, -1, -2), PARTITION p1 VALUES IN (9223372036854775807, -9223372036854775807))`,
			rows:   int64s(0, 1, 2, -9223372036854775807, 9223372036854775807, math.MinInt64),
			consts: []string{"0", "1", "'2'", "-9223372036854775807", "9223372036854775807"},
		},
		{
			sql: `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (
				PARTITION p0 VALUES LESS THAN (100), PARTITION p1 VALUES LESS THAN MAXVALUE)`,
			rows:   uint64s(0, 5, 99, 100, 1<<62, 1<<63, math.MaxUint64),
			consts: []string{"5", "'5'", "100", "9223372036854775807", "'9223372036854775808'", "'18446744073709551615'"},
		},
		{
			sql: `CREATE TABLE ul (k UInt64) PARTITION BY LIST (k) (
				PARTITION p0 VALUES IN (1, 2), PARTITION p1 VALUES IN (100, 9223372036854775807))`,
			rows:   uint64s(1, 2, 100, math.MaxInt64, 1<<63, math.MaxUint64),
			consts: []string{"1", "'2'", "9223372036854775807", "'9223372036854775808'"},
		},
		{
			sql:    `CREATE TABLE h (k UInt64) PARTITION BY HASH (k) PARTITIONS 3`,
			rows:   uint64s(0, 1, 2, 1<<63, 1<<63+1, math.MaxUint64),
			consts: []string{"1", "'1'", "'9223372036854775809'", "'18446744073709551615'"},
		},
		{
			sql:    `CREATE TABLE s (k String) PARTITION BY KEY (k) PARTITIONS 4`,
			rows:   []types.Value{"10", "010", "10.0", "9", "abc"},
			consts: []string{"10", "'10'", "9", "'abc'"},
		},
	}
	unary := []string{"k = %s", "k > %s", "k >= %s", "k < %s", "k <= %s", "%s < k", "%s >= k"}
	binary := []string{"k BETWEEN %s AND %s", "k IN (%s, %s)", "k > %s AND k < %s", "k = %s OR k = %s"}

	for _, tt := range tests {
		p := newPruner(t, tt.sql)
		type routed struct {
			row  types.Row
			leaf int
		}
		var stored []routed
		for _, v := range tt.rows {
			row := types.Row{v}
			leaf, err := p.r.Route(row)
			if errkind.Is(err, errkind.ErrNoMatchingPartition) || errkind.Is(err, errkind.ErrOutOfRange) {
				continue
			}
			require.NoError(t, err, "%s: route %v", tt.sql, v)
			stored = append(stored, routed{row, leaf})
		}
		require.NotEmpty(t, stored, tt.sql)

		var wheres []string
		for _, c := range tt.consts {
			for _, f := range unary {
				wheres = append(wheres, fmt.Sprintf(f, c))
			}
			for _, c2 := range tt.consts {
				for _, f := range binary {
					wheres = append(wheres, fmt.Sprintf(f, c, c2))
				}
			}
		}
		for _, w := range wheres {
			where, err := parser.ParseExpression(w)
			require.NoError(t, err, w)
			got := p.Analyze(where)
			for _, s := range stored {
				ok, err := expr.Matches(where, p.t.Schema, s.row)
				if err != nil || !ok {
					continue
				}
				require.True(t, got.Has(s.leaf), "%s: WHERE %s lost k=%v in leaf %d (got %s)", tt.sql, w, s.row[0], s.leaf, got)
			}
		}
	}
}

func TestStringConstantAgainstIntColumn(t *testing.T) {
	p := newPruner(t, `CREATE TABLE a (k Int64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	where, err := parser.ParseExpression("k > '10'")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, p.Analyze(where).Slice())

	ok, err := expr.Matches(where, p.t.Schema, types.Row{int64(2)})
	require.NoError(t, err)
	assert.False(t, ok, "2 > '10' compares as numbers")
	ok, err = expr.Matches(where, p.t.Schema, types.Row{int64(11)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOverflowingIntervalEnds(t *testing.T) {
	p := newPruner(t, `CREATE TABLE m (k Int64) PARTITION BY RANGE (k * 2) (
		PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	leaf, err := p.r.Route(types.Row{int64(0)})
	require.NoError(t, err)
	require.Equal(t, 0, leaf)

	got := leaves(p.PruneInterval(0, between(-(1<<62)-1, 1<<62-1), nil))
	assert.Contains(t, got, 0)

	_, err = p.r.Route(types.Row{int64(1 << 62)})
	assert.True(t, errkind.Is(err, errkind.ErrOutOfRange))
}

func TestUnsignedAboveInt64(t *testing.T) {
	p := newPruner(t, `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (100), PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	leaf, err := p.r.Route(types.Row{uint64(1 << 63)})
	require.NoError(t, err)
	assert.Equal(t, 1, leaf)

	p = newPruner(t, `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (100), PARTITION p1 VALUES LESS THAN (200))`)
	_, err = p.r.Route(types.Row{uint64(1 << 63)})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	p = newPruner(t, `CREATE TABLE l (k UInt64) PARTITION BY LIST (k) (PARTITION p0 VALUES IN (0))`)
	_, err = p.r.Route(types.Row{uint64(math.MaxUint64)})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	where, err := parser.ParseExpression("k = '9223372036854775808'")
	require.NoError(t, err)
	p = newPruner(t, `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (100), PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	assert.True(t, p.Analyze(where).Has(1))
}
