package dispatch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/backend/memstore"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/pruner"
	"github.com/harshithgowdakt/partdb/internal/router"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// testEngine wraps the memory engine to count handles and inject failures.
type testEngine struct {
	*memstore.Engine
	failDelete map[string]bool
	open       int
}

func (e *testEngine) Open(path string, s *types.Schema, mode backend.OpenMode) (backend.Handler, error) {
	h, err := e.Engine.Open(path, s, mode)
	if err != nil {
		return nil, err
	}
	e.open++
	return &testHandler{Handler: h, e: e, path: path}, nil
}

type testHandler struct {
	backend.Handler
	e    *testEngine
	path string
}

func (h *testHandler) Delete(row types.Row) error {
	if h.e.failDelete[h.path] {
		return errkind.ErrBackend.New(h.path, "disk on fire")
	}
	return h.Handler.Delete(row)
}

func (h *testHandler) Close() error {
	h.e.open--
	return h.Handler.Close()
}

type fixture struct {
	engine *testEngine
	reg    *backend.Registry
	p      *pruner.Pruner
	base   string
}

func newFixture(t *testing.T, sql string) *fixture {
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
	def, err := partition.FromAST(ct.Partition, schema, memstore.ID, nil)
	require.NoError(t, err)
	tbl, err := partition.Bind(def, schema)
	require.NoError(t, err)

	f := &fixture{engine: &testEngine{Engine: memstore.New(), failDelete: map[string]bool{}}, base: ct.TableName}
	f.reg, err = backend.NewRegistry(f.engine)
	require.NoError(t, err)
	f.p = pruner.New(router.New(tbl), 0)
	for _, path := range LeafPaths(tbl, f.base) {
		require.NoError(t, f.engine.Create(path, schema))
	}
	return f
}

func (f *fixture) open(t *testing.T) *Handle {
	t.Helper()
	h, err := Open(f.p, f.reg, f.base, backend.ReadWrite, nil)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

const rangeTable = `CREATE TABLE t (k Int64, v String) ORDER BY k PARTITION BY RANGE (k) (
	PARTITION p0 VALUES LESS THAN (100),
	PARTITION p1 VALUES LESS THAN (200),
	PARTITION p2 VALUES LESS THAN MAXVALUE)`

func leafKeys(t *testing.T, h *Handle, leaf int) []int64 {
	t.Helper()
	c, err := h.Leaf(leaf).Scan(true)
	require.NoError(t, err)
	defer c.Close()
	var out []int64
	for {
		row, err := c.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, row[0].(int64))
	}
}

func scanKeys(t *testing.T, h *Handle, ordered bool) ([]int64, []int) {
	t.Helper()
	s, err := h.Scan(ordered)
	require.NoError(t, err)
	defer s.Close()
	var keys []int64
	var leaves []int
	for {
		row, leaf, err := s.Next()
		if err == io.EOF {
			return keys, leaves
		}
		require.NoError(t, err)
		keys = append(keys, row[0].(int64))
		leaves = append(leaves, leaf)
	}
}

func TestWriteRoutesToLeaf(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	for _, k := range []int64{150, 250, 5} {
		require.NoError(t, h.Write(types.Row{k, "x"}))
	}
	assert.Equal(t, []int64{5}, leafKeys(t, h, 0))
	assert.Equal(t, []int64{150}, leafKeys(t, h, 1))
	assert.Equal(t, []int64{250}, leafKeys(t, h, 2))

	require.NoError(t, h.Delete(types.Row{int64(150), "x"}))
	assert.Empty(t, leafKeys(t, h, 1))
}

func TestMergedScanOrder(t *testing.T) {
	h := newFixture(t, `CREATE TABLE h (k Int64) PARTITION BY HASH (k) PARTITIONS 3`).open(t)
	for k := int64(1); k <= 9; k++ {
		require.NoError(t, h.Write(types.Row{k}))
	}
	assert.Equal(t, []int64{3, 6, 9}, leafKeys(t, h, 0))
	assert.Equal(t, []int64{1, 4, 7}, leafKeys(t, h, 1))
	assert.Equal(t, []int64{2, 5, 8}, leafKeys(t, h, 2))

	keys, leaves := scanKeys(t, h, true)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, keys)
	assert.Equal(t, []int{1, 2, 0, 1, 2, 0, 1, 2, 0}, leaves)

	keys, _ = scanKeys(t, h, false)
	assert.Equal(t, []int64{3, 6, 9, 1, 4, 7, 2, 5, 8}, keys)
}

func TestOneScanPerHandle(t *testing.T) {
	f := newFixture(t, `CREATE TABLE h (k Int64) PARTITION BY HASH (k) PARTITIONS 4`)
	h := f.open(t)
	for k := int64(0); k < 40; k++ {
		require.NoError(t, h.Write(types.Row{k}))
	}
	s, err := h.Scan(false)
	require.NoError(t, err)
	_, _, err = s.Next()
	require.NoError(t, err)

	_, err = h.Scan(true)
	require.Error(t, err)

	// abandoning the scan early frees the handle for the next one
	require.NoError(t, s.Close())
	s, err = h.Scan(true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCrossLeafUpdate(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	require.NoError(t, h.Write(types.Row{int64(50), "a"}))

	require.NoError(t, h.Update(types.Row{int64(50), "a"}, types.Row{int64(60), "b"}))
	assert.Equal(t, []int64{60}, leafKeys(t, h, 0))

	require.NoError(t, h.Update(types.Row{int64(60), "b"}, types.Row{int64(160), "b"}))
	assert.Empty(t, leafKeys(t, h, 0))
	assert.Equal(t, []int64{160}, leafKeys(t, h, 1))
}

func TestPartialMoveIsSurfaced(t *testing.T) {
	f := newFixture(t, rangeTable)
	h := f.open(t)
	require.NoError(t, h.Write(types.Row{int64(50), "a"}))
	f.engine.failDelete[h.Path(0)] = true

	err := h.Update(types.Row{int64(50), "a"}, types.Row{int64(150), "a"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrPartialMove))
	assert.Contains(t, err.Error(), "disk on fire")

	// the row is now in both leaves
	assert.Equal(t, []int64{50}, leafKeys(t, h, 0))
	assert.Equal(t, []int64{150}, leafKeys(t, h, 1))
}

func TestFailedInsertIntoDestinationIsNotPartial(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	require.NoError(t, h.Write(types.Row{int64(50), "a"}))
	require.NoError(t, h.Write(types.Row{int64(150), "taken"}))

	err := h.Update(types.Row{int64(50), "a"}, types.Row{int64(150), "a"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrBackend))
	assert.False(t, errkind.Is(err, errkind.ErrPartialMove))
	assert.Equal(t, []int64{50}, leafKeys(t, h, 0))
}

func TestInsertAbortAndSkip(t *testing.T) {
	h := newFixture(t, `CREATE TABLE t (k Int64) PARTITION BY RANGE (k) (
		PARTITION p0 VALUES LESS THAN (10), PARTITION p1 VALUES LESS THAN (20))`).open(t)
	rows := []types.Row{{int64(1)}, {int64(15)}, {int64(99)}, {int64(2)}}

	_, _, err := h.Insert(rows, false)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))
	assert.Empty(t, leafKeys(t, h, 0))
	assert.Empty(t, leafKeys(t, h, 1))

	written, skipped, err := h.Insert(rows, true)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []int64{1, 2}, leafKeys(t, h, 0))
}

func TestPartitionSelection(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	require.NoError(t, h.UsePartitions([]string{"p1"}))

	require.NoError(t, h.Write(types.Row{int64(150), "in"}))
	err := h.Write(types.Row{int64(50), "out"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	require.Error(t, h.UsePartitions([]string{"nope"}))
	require.NoError(t, h.UsePartitions(nil))
	require.NoError(t, h.Write(types.Row{int64(50), "out"}))
	keys, _ := scanKeys(t, h, true)
	assert.Equal(t, []int64{50, 150}, keys)
}

func TestPruneReadsAndInfo(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	_, _, err := h.Insert([]types.Row{{int64(1), "a"}, {int64(150), "b"}, {int64(250), "c"}, {int64(260), "d"}}, false)
	require.NoError(t, err)

	where, err := parser.ParseExpression("k >= 150 AND k <= 250")
	require.NoError(t, err)
	read := h.PruneReads(where)
	assert.Equal(t, []int{1, 2}, read.Slice())

	keys, _ := scanKeys(t, h, true)
	assert.Equal(t, []int64{150, 250, 260}, keys)

	st, err := h.Info()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Rows)
	assert.True(t, st.OrderedScan)
	assert.False(t, st.Durable)

	leaves, err := h.LeafInfo()
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.Equal(t, "p2", leaves[1].Name)
	assert.Equal(t, uint64(2), leaves[1].Rows)
}

func TestAggregate(t *testing.T) {
	t0 := time.Unix(1000, 0)
	agg := Aggregate([]LeafStats{
		{Stats: backend.Stats{Rows: 2, DataBytes: 10, UpdateTime: t0, OrderedScan: true, Durable: true}},
		{Stats: backend.Stats{Rows: 3, DataBytes: 5, UpdateTime: t0.Add(time.Hour), OrderedScan: true}},
	})
	assert.Equal(t, uint64(5), agg.Rows)
	assert.Equal(t, uint64(15), agg.DataBytes)
	assert.Equal(t, t0.Add(time.Hour), agg.UpdateTime)
	assert.True(t, agg.OrderedScan)
	assert.False(t, agg.Durable)
}

func TestPositions(t *testing.T) {
	h := newFixture(t, rangeTable).open(t)
	require.NoError(t, h.Write(types.Row{int64(150), "x"}))
	require.NoError(t, h.Write(types.Row{int64(20), "y"}))
	require.NoError(t, h.Write(types.Row{int64(10), "z"}))

	var positions []Position
	s, err := h.Scan(true)
	require.NoError(t, err)
	for {
		row, leaf, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		pos, err := h.Position(leaf, row)
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	require.NoError(t, s.Close())
	require.Len(t, positions, 3)

	assert.Equal(t, -1, h.ComparePositions(positions[0], positions[1]))
	assert.Equal(t, -1, h.ComparePositions(positions[1], positions[2]))
	assert.Equal(t, 1, h.ComparePositions(positions[2], positions[0]))

	row, err := h.Seek(positions[2])
	require.NoError(t, err)
	assert.Equal(t, "x", row[1])

	_, err = h.Seek(Position{Leaf: 7})
	require.Error(t, err)
}

func TestOpenFailureClosesOpenedLeaves(t *testing.T) {
	f := newFixture(t, rangeTable)
	require.NoError(t, f.engine.Drop(partition.LeafPath(f.base, "p2")))

	_, err := Open(f.p, f.reg, f.base, backend.ReadWrite, nil)
	require.Error(t, err)
	assert.True(t, backend.ErrLeafNotFound.Is(err))
	assert.Zero(t, f.engine.open)
}

func TestLockRollsBack(t *testing.T) {
	f := newFixture(t, rangeTable)
	h := f.open(t)
	other := f.open(t)
	require.NoError(t, other.Leaf(1).Lock(context.Background(), backend.LockExclusive))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Lock(ctx, backend.LockShared)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrBackend))

	// leaf 0 was locked and released again by the failed call
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, other.Leaf(0).Lock(ctx2, backend.LockExclusive))
	other.Leaf(0).Unlock(backend.LockExclusive)
	other.Leaf(1).Unlock(backend.LockExclusive)

	require.NoError(t, h.Lock(context.Background(), backend.LockShared))
	h.Unlock(backend.LockShared)
}

func TestCloseReturnsFirstError(t *testing.T) {
	f := newFixture(t, rangeTable)
	h, err := Open(f.p, f.reg, f.base, backend.ReadWrite, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, f.engine.open)
	require.NoError(t, h.Close())
	assert.Zero(t, f.engine.open)
	assert.NoError(t, h.Close())
}
