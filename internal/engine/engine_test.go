package engine_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/backend/filestore"
	"github.com/harshithgowdakt/partdb/internal/backend/memstore"
	"github.com/harshithgowdakt/partdb/internal/catalog"
	"github.com/harshithgowdakt/partdb/internal/engine"
	"github.com/harshithgowdakt/partdb/internal/errkind"
)

func setup(t *testing.T, opts engine.Options) *engine.Executor {
	t.Helper()
	engines, err := backend.NewRegistry(memstore.New(), filestore.New(nil, nil))
	require.NoError(t, err)
	cat, err := catalog.Open(catalog.Options{DataDir: t.TempDir(), Engines: engines})
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return engine.New(cat, opts)
}

func execSQL(t *testing.T, e *engine.Executor, sql string) *engine.Result {
	t.Helper()
	res, err := e.Query(context.Background(), sql)
	require.NoError(t, err, sql)
	return res
}

// ints returns an Int64 column of a result.
func ints(t *testing.T, res *engine.Result, col int) []int64 {
	t.Helper()
	out := []int64{}
	for _, row := range res.Rows {
		out = append(out, row[col].(int64))
	}
	return out
}

func leaves(res *engine.Result) []string {
	out := []string{}
	for _, row := range res.Rows {
		out = append(out, row[1].(string))
	}
	return out
}

const createRange = `CREATE TABLE r (k Int64, v String) ENGINE = File ORDER BY k PARTITION BY RANGE (k) (
	PARTITION p0 VALUES LESS THAN (100),
	PARTITION p1 VALUES LESS THAN (200),
	PARTITION p2 VALUES LESS THAN MAXVALUE)`

func TestRangeEndToEnd(t *testing.T) {
	e := setup(t, engine.Options{})
	execSQL(t, e, createRange)

	res := execSQL(t, e, `INSERT INTO r VALUES (150, 'a'), (250, 'b'), (280, 'c'), (350, 'd'), (5, 'e')`)
	assert.Equal(t, "OK. 5 rows inserted.", res.Message)

	res = execSQL(t, e, `SELECT k FROM r PARTITION (p1)`)
	assert.Equal(t, []int64{150}, ints(t, res, 0))
	res = execSQL(t, e, `SELECT k FROM r PARTITION (p2) ORDER BY k`)
	assert.Equal(t, []int64{250, 280, 350}, ints(t, res, 0))

	assert.Equal(t, []string{"p0", "p1"}, leaves(execSQL(t, e, `EXPLAIN SELECT * FROM r WHERE k BETWEEN 50 AND 120`)))
	assert.Equal(t, []string{"p1", "p2"}, leaves(execSQL(t, e, `EXPLAIN SELECT * FROM r WHERE k >= 150 AND k <= 250`)))

	before := execSQL(t, e, `SELECT k, v FROM r ORDER BY k`)
	res = execSQL(t, e, `ALTER TABLE r ADD PARTITION (PARTITION p3 VALUES LESS THAN (300))`)
	assert.Contains(t, res.Message, "4 leaf partitions")

	res = execSQL(t, e, `SELECT k FROM r PARTITION (p2) ORDER BY k`)
	assert.Equal(t, []int64{250, 280}, ints(t, res, 0))
	res = execSQL(t, e, `SELECT k FROM r PARTITION (p3)`)
	assert.Equal(t, []int64{350}, ints(t, res, 0))

	after := execSQL(t, e, `SELECT k, v FROM r ORDER BY k`)
	assert.Equal(t, before.Rows, after.Rows)
	assert.Equal(t, []string{"p3"}, leaves(execSQL(t, e, `EXPLAIN SELECT * FROM r WHERE k > 300`)))
}

func TestSelectOrderAndLimit(t *testing.T) {
	e := setup(t, engine.Options{DefaultEngine: "Memory"})
	execSQL(t, e, `CREATE TABLE h (k Int64, v Int64) ORDER BY k PARTITION BY HASH (k) PARTITIONS 3`)
	execSQL(t, e, `INSERT INTO h VALUES (1, 9), (4, 6), (7, 3), (2, 8), (5, 5), (8, 2), (3, 7), (6, 4), (9, 1)`)

	res := execSQL(t, e, `SELECT k FROM h ORDER BY k`)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, ints(t, res, 0))

	res = execSQL(t, e, `SELECT k FROM h ORDER BY k LIMIT 4`)
	assert.Equal(t, []int64{1, 2, 3, 4}, ints(t, res, 0))

	res = execSQL(t, e, `SELECT k, v FROM h ORDER BY v DESC LIMIT 2`)
	assert.Equal(t, []int64{1, 2}, ints(t, res, 0))

	res = execSQL(t, e, `SELECT k, v * 2 AS w FROM h WHERE k = 5`)
	assert.Equal(t, []string{"k", "w"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(10), res.Rows[0][1])

	// unordered scans drain one leaf after the other
	res = execSQL(t, e, `SELECT k FROM h`)
	got := ints(t, res, 0)
	assert.Len(t, got, 9)
	assert.False(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestUpdateMovesRows(t *testing.T) {
	e := setup(t, engine.Options{})
	execSQL(t, e, createRange)
	execSQL(t, e, `INSERT INTO r VALUES (150, 'a'), (250, 'b')`)

	res := execSQL(t, e, `UPDATE r SET k = 50 WHERE k = 250`)
	assert.Equal(t, "OK. 1 rows updated.", res.Message)
	res = execSQL(t, e, `SELECT k, v FROM r PARTITION (p0)`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "b", res.Rows[0][1])
	assert.Empty(t, execSQL(t, e, `SELECT k FROM r PARTITION (p2)`).Rows)

	res = execSQL(t, e, `UPDATE r SET v = 'z' WHERE k = 150`)
	assert.Equal(t, "OK. 1 rows updated.", res.Message)

	_, err := e.Query(context.Background(), `UPDATE r PARTITION (p1) SET k = 500 WHERE k = 150`)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	res = execSQL(t, e, `DELETE FROM r WHERE k < 100`)
	assert.Equal(t, "OK. 1 rows deleted.", res.Message)
	assert.Equal(t, []int64{150}, ints(t, execSQL(t, e, `SELECT k FROM r`), 0))
}

func TestInsertWithoutPartition(t *testing.T) {
	const create = `CREATE TABLE l (k Int64) PARTITION BY LIST (k) (
		PARTITION even VALUES IN (0, 2, 4),
		PARTITION odd VALUES IN (1, 3, 5))`

	e := setup(t, engine.Options{})
	execSQL(t, e, create)
	_, err := e.Query(context.Background(), `INSERT INTO l VALUES (1), (2), (9)`)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))
	assert.Empty(t, execSQL(t, e, `SELECT * FROM l`).Rows)

	_, err = e.Query(context.Background(), `INSERT INTO l PARTITION (even) VALUES (1)`)
	assert.True(t, errkind.Is(err, errkind.ErrNoMatchingPartition))

	e = setup(t, engine.Options{SkipUnroutable: true})
	execSQL(t, e, create)
	res := execSQL(t, e, `INSERT INTO l VALUES (1), (2), (9)`)
	assert.Equal(t, "OK. 2 rows inserted, 1 rows without a partition skipped.", res.Message)
	assert.Len(t, execSQL(t, e, `SELECT * FROM l`).Rows, 2)
}

func TestAlterCommands(t *testing.T) {
	e := setup(t, engine.Options{})
	execSQL(t, e, `CREATE TABLE h (k Int64) ENGINE = File PARTITION BY LINEAR KEY (k) PARTITIONS 2`)
	execSQL(t, e, `INSERT INTO h VALUES (1), (2), (3), (4), (5), (6), (7), (8)`)

	execSQL(t, e, `ALTER TABLE h ADD PARTITION PARTITIONS 2`)
	res := execSQL(t, e, `SHOW PARTITIONS FROM h`)
	require.Len(t, res.Rows, 4)
	var total uint64
	for _, row := range res.Rows {
		total += row[5].(uint64)
	}
	assert.Equal(t, uint64(8), total)

	execSQL(t, e, `ALTER TABLE h COALESCE PARTITION 3`)
	assert.Len(t, execSQL(t, e, `SHOW PARTITIONS FROM h`).Rows, 1)
	execSQL(t, e, `ALTER TABLE h REBUILD PARTITION ALL`)
	assert.Len(t, execSQL(t, e, `SELECT * FROM h`).Rows, 8)

	_, err := e.Query(context.Background(), `ALTER TABLE h DROP PARTITION p0`)
	assert.True(t, errkind.Is(err, errkind.ErrDefinition))

	execSQL(t, e, createRange)
	execSQL(t, e, `INSERT INTO r VALUES (1, 'a'), (120, 'b'), (220, 'c')`)
	execSQL(t, e, `ALTER TABLE r REORGANIZE PARTITION p0, p1 INTO (PARTITION lo VALUES LESS THAN (200))`)
	assert.Equal(t, []int64{1, 120}, ints(t, execSQL(t, e, `SELECT k FROM r PARTITION (lo) ORDER BY k`), 0))
	execSQL(t, e, `ALTER TABLE r DROP PARTITION lo`)
	assert.Equal(t, []int64{220}, ints(t, execSQL(t, e, `SELECT k FROM r`), 0))
}

func TestShowAndTableLifecycle(t *testing.T) {
	e := setup(t, engine.Options{})
	execSQL(t, e, createRange)
	execSQL(t, e, `INSERT INTO r VALUES (1, 'a'), (150, 'b')`)

	res := execSQL(t, e, `SHOW TABLE STATUS r`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "RANGE(k)", res.Rows[0][1])
	assert.Equal(t, uint64(3), res.Rows[0][2])
	assert.Equal(t, uint64(2), res.Rows[0][4])

	res = execSQL(t, e, `SHOW PARTITIONS FROM r`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "LESS THAN MAXVALUE", res.Rows[2][4])

	execSQL(t, e, `RENAME TABLE r TO s`)
	res = execSQL(t, e, `SHOW TABLES`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "s", res.Rows[0][0])
	assert.Equal(t, "File", res.Rows[0][1])

	_, err := e.Query(context.Background(), `SELECT * FROM r`)
	assert.True(t, errkind.Is(err, errkind.ErrTableNotFound))

	execSQL(t, e, `DROP TABLE s`)
	execSQL(t, e, `DROP TABLE IF EXISTS s`)
	assert.Empty(t, execSQL(t, e, `SHOW TABLES`).Rows)
}
