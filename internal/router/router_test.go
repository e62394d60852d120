package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

func bind(t *testing.T, sql string) *Router {
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
	return New(tbl)
}

func TestRouteRange(t *testing.T) {
	r := bind(t, `CREATE TABLE r (k Nullable(Int64)) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (100),
		PARTITION p1 VALUES LESS THAN (200),
		PARTITION p2 VALUES LESS THAN MAXVALUE)`)
	tests := []struct {
		k    types.Value
		want int
	}{
		{int64(-5), 0}, {int64(99), 0}, {int64(100), 1}, {int64(150), 1},
		{int64(199), 1}, {int64(200), 2}, {int64(250), 2}, {nil, 0},
	}
	for _, tt := range tests {
		leaf, err := r.Route(types.Row{tt.k})
		require.NoError(t, err)
		assert.Equal(t, tt.want, leaf, "k=%v", tt.k)
	}
}

func TestRouteRangeNoMatch(t *testing.T) {
	r := bind(t, `CREATE TABLE r (k Int64) PARTITION BY RANGE (k) (PARTITION p0 VALUES LESS THAN (10))`)
	_, err := r.Route(types.Row{int64(10)})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))
}

func TestRouteUnsignedAboveInt64(t *testing.T) {
	r := bind(t, `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (100),
		PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	for _, tt := range []struct {
		k    uint64
		want int
	}{
		{99, 0}, {100, 1}, {1<<63 - 1, 1}, {1 << 63, 1}, {1<<64 - 1, 1},
	} {
		leaf, err := r.Route(types.Row{tt.k})
		require.NoError(t, err)
		assert.Equal(t, tt.want, leaf, "k=%d", tt.k)
	}

	r = bind(t, `CREATE TABLE u (k UInt64) PARTITION BY RANGE (k) (PARTITION p0 VALUES LESS THAN (100))`)
	_, err := r.Route(types.Row{uint64(1 << 63)})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	r = bind(t, `CREATE TABLE l (k UInt64) PARTITION BY LIST (k) (PARTITION p0 VALUES IN (0, 9223372036854775807))`)
	leaf, err := r.Route(types.Row{uint64(1<<63 - 1)})
	require.NoError(t, err)
	assert.Equal(t, 0, leaf)
	_, err = r.Route(types.Row{uint64(1 << 63)})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	r = bind(t, `CREATE TABLE h (k UInt64) PARTITION BY HASH (k) PARTITIONS 4`)
	leaf, err = r.Route(types.Row{uint64(1<<63 + 5)})
	require.NoError(t, err)
	assert.Equal(t, 1, leaf)
}

func TestRouteList(t *testing.T) {
	r := bind(t, `CREATE TABLE l (k Nullable(Int32)) PARTITION BY LIST (k) (
		PARTITION a VALUES IN (1, 3, NULL), PARTITION b VALUES IN (2, 4))`)
	for k, want := range map[int32]int{1: 0, 2: 1, 3: 0, 4: 1} {
		leaf, err := r.Route(types.Row{k})
		require.NoError(t, err)
		assert.Equal(t, want, leaf)
	}
	leaf, err := r.Route(types.Row{nil})
	require.NoError(t, err)
	assert.Equal(t, 0, leaf)

	_, err = r.Route(types.Row{int32(5)})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	r = bind(t, `CREATE TABLE l (k Nullable(Int32)) PARTITION BY LIST (k) (PARTITION a VALUES IN (1))`)
	_, err = r.Route(types.Row{nil})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))
}

func TestRouteHash(t *testing.T) {
	r := bind(t, `CREATE TABLE h (id Int64) PARTITION BY HASH (id) PARTITIONS 4`)
	for _, id := range []int64{0, 1, 5, -5, 1 << 40} {
		leaf, err := r.Route(types.Row{id})
		require.NoError(t, err)
		assert.Equal(t, int(HashValue(id)%4), leaf)
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := bind(t, `CREATE TABLE k (id Int64, name String, ts DateTime) PARTITION BY LINEAR KEY (name, ts) PARTITIONS 7`)
	rows := []types.Row{
		{int64(1), "alpha", uint32(1700000000)},
		{int64(2), "Beta", uint32(0)},
		{int64(3), "", uint32(42)},
	}
	for _, row := range rows {
		first, err := r.Route(row)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			again, err := r.Route(row)
			require.NoError(t, err)
			require.Equal(t, first, again)
		}
	}
}

func TestKeyHashUsesCollation(t *testing.T) {
	r := bind(t, `CREATE TABLE k (name String) PARTITION BY KEY (name) PARTITIONS 16`)
	lvl := &r.Table().Top
	assert.Equal(t, r.KeyHash(lvl, types.Row{"hello"}), r.KeyHash(lvl, types.Row{"HELLO"}))
	assert.NotEqual(t, r.KeyHash(lvl, types.Row{"hello"}), r.KeyHash(lvl, types.Row{"world"}))
}

func TestLinearHashRebalanceBound(t *testing.T) {
	const domain = 1 << 12
	for n := 1; n < 40; n++ {
		moved := 0
		for h := uint64(0); h < domain; h++ {
			if HashIndex(h, n, true) != HashIndex(h, n+1, true) {
				moved++
			}
		}
		assert.LessOrEqual(t, float64(moved)/domain, 1/float64(n+1), "n=%d", n)
	}
}

func TestLinearHashInRange(t *testing.T) {
	for n := 1; n < 70; n++ {
		for h := uint64(0); h < 512; h++ {
			idx := HashIndex(h, n, true)
			require.True(t, idx >= 0 && idx < n, "h=%d n=%d idx=%d", h, n, idx)
		}
	}
}

func TestRouteSubpartitions(t *testing.T) {
	r := bind(t, `CREATE TABLE s (a Int32, b Int32) PARTITION BY RANGE (a)
		SUBPARTITION BY HASH (b) SUBPARTITIONS 3 (
		PARTITION p0 VALUES LESS THAN (10),
		PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	leaf, err := r.Route(types.Row{int32(50), int32(7)})
	require.NoError(t, err)
	assert.Equal(t, 1*3+7%3, leaf)
}

func TestRouteRangeColumns(t *testing.T) {
	r := bind(t, `CREATE TABLE c (a Int32, b String) PARTITION BY RANGE COLUMNS (a, b) (
		PARTITION p0 VALUES LESS THAN (10, 'm'),
		PARTITION p1 VALUES LESS THAN (20, MAXVALUE))`)
	tests := []struct {
		row  types.Row
		want int
	}{
		{types.Row{int32(5), "zzz"}, 0},
		{types.Row{int32(10), "a"}, 0},
		{types.Row{int32(10), "n"}, 1},
		{types.Row{int32(19), "zzz"}, 1},
	}
	for _, tt := range tests {
		leaf, err := r.Route(tt.row)
		require.NoError(t, err)
		assert.Equal(t, tt.want, leaf, "%v", tt.row)
	}
	_, err := r.Route(types.Row{int32(21), "a"})
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))
}
