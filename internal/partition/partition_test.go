package partition

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

func bindSQL(t *testing.T, sql string) (*Table, error) {
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
	def, err := FromAST(ct.Partition, schema, 1, nil)
	if err != nil {
		return nil, err
	}
	return Bind(def, schema)
}

func mustBind(t *testing.T, sql string) *Table {
	t.Helper()
	tbl, err := bindSQL(t, sql)
	require.NoError(t, err)
	return tbl
}

const rangeSQL = `CREATE TABLE r (k Int64) PARTITION BY RANGE (k) (
	PARTITION p0 VALUES LESS THAN (100),
	PARTITION p1 VALUES LESS THAN (200),
	PARTITION p2 VALUES LESS THAN MAXVALUE)`

func TestBindRange(t *testing.T) {
	tbl := mustBind(t, rangeSQL)
	assert.Equal(t, []int64{100, 200}, tbl.RangeBounds)
	assert.True(t, tbl.RangeMax)
	assert.Equal(t, 3, tbl.NumLeaves())
	assert.Equal(t, []string{"p0", "p1", "p2"}, tbl.LeafNames())
	assert.Equal(t, "LESS THAN (MAXVALUE)", tbl.DescribeBound(2))
}

func TestBindDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"non increasing", `CREATE TABLE t (k Int64) PARTITION BY RANGE (k) (PARTITION a VALUES LESS THAN (10), PARTITION b VALUES LESS THAN (10))`},
		{"maxvalue not last", `CREATE TABLE t (k Int64) PARTITION BY RANGE (k) (PARTITION a VALUES LESS THAN MAXVALUE, PARTITION b VALUES LESS THAN (10))`},
		{"duplicate list value", `CREATE TABLE t (k Int64) PARTITION BY LIST (k) (PARTITION a VALUES IN (1, 2), PARTITION b VALUES IN (2))`},
		{"two null owners", `CREATE TABLE t (k Nullable(Int64)) PARTITION BY LIST (k) (PARTITION a VALUES IN (NULL), PARTITION b VALUES IN (NULL))`},
		{"float column", `CREATE TABLE t (f Float64) PARTITION BY HASH (f) PARTITIONS 2`},
		{"non deterministic", `CREATE TABLE t (k Int64) PARTITION BY HASH (k + rand()) PARTITIONS 2`},
		{"string result", `CREATE TABLE t (s String) PARTITION BY HASH (toString(s)) PARTITIONS 2`},
		{"range without partitions", `CREATE TABLE t (k Int64) PARTITION BY RANGE (k)`},
		{"duplicate names", `CREATE TABLE t (k Int64) PARTITION BY LIST (k) (PARTITION a VALUES IN (1), PARTITION A VALUES IN (2))`},
		{"float columns list", `CREATE TABLE t (f Float32) PARTITION BY RANGE COLUMNS (f) (PARTITION a VALUES LESS THAN (1))`},
		{"tuple not increasing", `CREATE TABLE t (a Int32, b String) PARTITION BY RANGE COLUMNS (a, b) (
			PARTITION p0 VALUES LESS THAN (10, 'm'), PARTITION p1 VALUES LESS THAN (10, 'a'))`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bindSQL(t, tt.sql)
			require.Error(t, err)
			assert.True(t, errkind.Is(err, errkind.ErrDefinition), err.Error())
		})
	}
}

func TestBindMixedEngines(t *testing.T) {
	tbl := mustBind(t, rangeSQL)
	def := tbl.Def.Clone()
	def.Partitions[1].Engine = 2
	_, err := Bind(def, tbl.Schema)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrDefinition))
}

func TestBindListAndColumns(t *testing.T) {
	tbl := mustBind(t, `CREATE TABLE l (k Nullable(Int32)) PARTITION BY LIST (k) (
		PARTITION odd VALUES IN (3, 1, NULL), PARTITION even VALUES IN (4, 2))`)
	assert.Equal(t, []ListEntry{{1, 0}, {2, 1}, {3, 0}, {4, 1}}, tbl.ListValues)
	assert.Equal(t, 0, tbl.NullPart)

	tbl = mustBind(t, `CREATE TABLE c (a Int32, ts DateTime) PARTITION BY RANGE COLUMNS (a, ts) (
		PARTITION p0 VALUES LESS THAN (10, '2024-01-01'),
		PARTITION p1 VALUES LESS THAN (10, MAXVALUE),
		PARTITION p2 VALUES LESS THAN (MAXVALUE, MAXVALUE))`)
	require.Len(t, tbl.RangeTuples, 3)
	assert.Equal(t, int32(10), tbl.RangeTuples[0][0])
	assert.True(t, IsMaxValue(tbl.RangeTuples[1][1]))
}

func TestBindSubpartitions(t *testing.T) {
	tbl := mustBind(t, `CREATE TABLE s (a Int32, b Int32) PARTITION BY RANGE (a)
		SUBPARTITION BY HASH (b) SUBPARTITIONS 2 (
		PARTITION p0 VALUES LESS THAN (10),
		PARTITION p1 VALUES LESS THAN MAXVALUE)`)
	assert.Equal(t, 2, tbl.NumSubs)
	assert.Equal(t, []string{"p0#SP#p0sp0", "p0#SP#p0sp1", "p1#SP#p1sp0", "p1#SP#p1sp1"}, tbl.LeafNames())
	assert.Equal(t, 3, tbl.LeafID(1, 1))

	set, err := tbl.ResolveNames([]string{"p1", "p0sp0"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, set.Slice())

	_, err = tbl.ResolveNames([]string{"nope"})
	assert.True(t, errkind.Is(err, errkind.ErrDefinition))
}

func TestBuildBoundariesIdempotent(t *testing.T) {
	tbl := mustBind(t, rangeSQL)
	before := append([]int64(nil), tbl.RangeBounds...)
	require.NoError(t, tbl.BuildBoundaries())
	assert.Equal(t, before, tbl.RangeBounds)
}

func TestHashDefaults(t *testing.T) {
	tbl := mustBind(t, `CREATE TABLE h (id Int64) PARTITION BY LINEAR HASH (id) PARTITIONS 3`)
	assert.Equal(t, []string{"p0", "p1", "p2"}, tbl.LeafNames())
	assert.True(t, tbl.Top.Method.Linear)
	assert.NotNil(t, tbl.Top.Expr)

	tbl = mustBind(t, `CREATE TABLE k (id Int64, name String) ORDER BY (name) PARTITION BY KEY () PARTITIONS 2`)
	assert.Equal(t, []int{1}, tbl.Top.Cols)
}

func TestLeafSet(t *testing.T) {
	s := NewLeafSet(10)
	s.Add(3)
	s.Add(7)
	s.Add(42)
	assert.Equal(t, 2, s.Count())
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(42))

	next, ok := s.Next(4)
	require.True(t, ok)
	assert.Equal(t, 7, next)

	all := AllLeaves(10)
	assert.True(t, all.Full())
	assert.True(t, all.Contains(s))
	assert.Equal(t, []int{3, 7}, all.Intersect(s).Slice())
	assert.Equal(t, "{3,7}", s.String())
}

func TestAlterBuilders(t *testing.T) {
	tbl := mustBind(t, rangeSQL)

	add, err := AddPartitions(tbl.Def, []Partition{{Name: "p3", Engine: 1, LessThan: []Literal{{Text: "300"}}}})
	require.NoError(t, err)
	nt, err := Bind(add.New, tbl.Schema)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300}, nt.RangeBounds)
	assert.True(t, nt.RangeMax)
	assert.Equal(t, []State{StateNormal, StateNormal, StateToBeReorganized}, add.OldStates)
	assert.Equal(t, []State{StateNormal, StateNormal, StateChanged, StateToBeAdded}, add.NewStates)
	assert.Equal(t, []int{0, 1, -1, -1}, add.Source)
	assert.Len(t, tbl.Def.Partitions, 3, "old definition must not change")

	drop, err := DropPartitions(tbl.Def, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, []State{StateNormal, StateToBeDropped, StateNormal}, drop.OldStates)
	assert.Equal(t, []int{0, 2}, drop.Source)

	_, err = DropPartitions(tbl.Def, []string{"p0", "p1", "p2"})
	assert.Error(t, err)

	reorg, err := Reorganize(tbl.Def, []string{"p0", "p1"}, []Partition{{Name: "p01", Engine: 1, LessThan: []Literal{{Text: "200"}}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p01", "p2"}, reorg.New.LeafNames())
	assert.True(t, reorg.Moves())

	_, err = Reorganize(tbl.Def, []string{"p0", "p2"}, []Partition{{Name: "x", Engine: 1, LessThan: []Literal{{Max: true}}}})
	assert.Error(t, err, "non adjacent range partitions")

	_, err = Coalesce(tbl.Def, 1)
	assert.Error(t, err, "coalesce needs HASH or KEY")

	h := mustBind(t, `CREATE TABLE h (id Int64) PARTITION BY HASH (id) PARTITIONS 2`)
	grow, err := AddHashPartitions(h.Def, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, grow.New.LeafNames())
	for _, p := range grow.New.Partitions {
		assert.Empty(t, p.Subpartitions, p.Name)
	}
	grown, err := Bind(grow.New, h.Schema)
	require.NoError(t, err)
	assert.Equal(t, 4, grown.NumLeaves())
	shrink, err := Coalesce(grow.New, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0"}, shrink.New.LeafNames())

	rb, err := Rebuild(tbl.Def, []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, []State{StateNormal, StateToBeReorganized, StateNormal}, rb.OldStates)
}

func TestParFileRoundTrip(t *testing.T) {
	pf := &ParFile{Names: []string{"p0", "p1sp0", "p1sp1"}, Engines: []uint8{1, 1, 1}}
	data, err := EncodePar(pf)
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	got, err := DecodePar(data)
	require.NoError(t, err)
	assert.Equal(t, pf, got)

	for i := range data {
		corrupted := append([]byte(nil), data...)
		corrupted[i] ^= 0x01
		_, err := DecodePar(corrupted)
		require.Error(t, err, "flipped byte %d", i)
		assert.True(t, errkind.Is(err, errkind.ErrCorruption), "byte %d: %v", i, err)
	}
}

func TestParFileOnDisk(t *testing.T) {
	tbl := mustBind(t, rangeSQL)
	path := filepath.Join(t.TempDir(), "r.par")
	require.NoError(t, WriteParFile(path, ParFileOf(tbl.Def)))
	pf, err := ReadParFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2"}, pf.Names)
	assert.Equal(t, []uint8{1, 1, 1}, pf.Engines)
}
