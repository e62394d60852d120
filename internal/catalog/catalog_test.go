package catalog

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/alter"
	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/backend/filestore"
	"github.com/harshithgowdakt/partdb/internal/backend/memstore"
	"github.com/harshithgowdakt/partdb/internal/ddllog"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

const rangeSQL = `CREATE TABLE t (k Int64, v String) ORDER BY k PARTITION BY RANGE (k) (
	PARTITION p0 VALUES LESS THAN (100),
	PARTITION p1 VALUES LESS THAN (200),
	PARTITION p2 VALUES LESS THAN MAXVALUE)`

func openCatalog(t *testing.T, dir string, hooks *alter.Hooks) *Catalog {
	t.Helper()
	engines, err := backend.NewRegistry(memstore.New(), filestore.New(nil, nil))
	require.NoError(t, err)
	c, err := Open(Options{
		DataDir:      dir,
		Engines:      engines,
		LockTimeout:  time.Second,
		AlterTimeout: 50 * time.Millisecond,
		Alter:        alter.Options{Hooks: hooks},
	})
	require.NoError(t, err)
	return c
}

func metaFor(t *testing.T, sql string, engine uint8) *Meta {
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
	def, err := partition.FromAST(ct.Partition, schema, engine, nil)
	require.NoError(t, err)
	return NewMeta(schema, def)
}

func insert(t *testing.T, c *Catalog, name string, keys ...int64) {
	t.Helper()
	ref, err := c.Acquire(context.Background(), name)
	require.NoError(t, err)
	defer ref.Release()
	h, err := ref.Open(backend.ReadWrite)
	require.NoError(t, err)
	defer h.Close()
	var rows []types.Row
	for _, k := range keys {
		rows = append(rows, types.Row{k, "x"})
	}
	_, _, err = h.Insert(rows, false)
	require.NoError(t, err)
}

func keys(t *testing.T, c *Catalog, name string) []int64 {
	t.Helper()
	ref, err := c.Acquire(context.Background(), name)
	require.NoError(t, err)
	defer ref.Release()
	h, err := ref.Open(backend.ReadOnly)
	require.NoError(t, err)
	defer h.Close()
	s, err := h.Scan(true)
	require.NoError(t, err)
	defer s.Close()
	out := []int64{}
	for {
		row, _, err := s.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, row[0].(int64))
	}
}

func TestCreateAndReopen(t *testing.T) {
	dir := t.TempDir()
	c := openCatalog(t, dir, nil)
	require.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), false))
	require.NoError(t, c.Create("m", metaFor(t, rangeSQL, memstore.ID), false))
	insert(t, c, "t", 5, 150, 250)
	insert(t, c, "m", 7)

	assert.True(t, errkind.Is(c.Create("t", metaFor(t, rangeSQL, filestore.ID), false), errkind.ErrTableExists))
	assert.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), true))
	assert.True(t, errkind.Is(c.Create("bad.name", metaFor(t, rangeSQL, filestore.ID), false), errkind.ErrDefinition))

	tables := c.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "m", tables[0].Name)
	assert.Equal(t, "Memory", tables[0].Engine)
	assert.Equal(t, "File", tables[1].Engine)
	require.NoError(t, c.Close())

	c = openCatalog(t, dir, nil)
	defer c.Close()
	assert.Equal(t, []int64{5, 150, 250}, keys(t, c, "t"))
	// memory leaves come back empty
	assert.Equal(t, []int64{}, keys(t, c, "m"))
}

func TestAlterSwapsSnapshot(t *testing.T) {
	c := openCatalog(t, t.TempDir(), nil)
	defer c.Close()
	require.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), false))
	insert(t, c, "t", 150, 250, 350)

	old, err := c.Acquire(context.Background(), "t")
	require.NoError(t, err)

	build := func(tbl *partition.Table) (*partition.Change, error) {
		return partition.AddPartitions(tbl.Def, []partition.Partition{{
			Name: "p3", Engine: filestore.ID, LessThan: []partition.Literal{{Text: "300"}},
		}})
	}
	_, err = c.Alter(context.Background(), "t", "ADD PARTITION", build)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrConcurrencyConflict))

	pinned := old.Snapshot()
	old.Release()
	old.Release()

	res, err := c.Alter(context.Background(), "t", "ADD PARTITION", build)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, res.Table.LeafNames())
	assert.Equal(t, []string{"p0", "p1", "p2"}, pinned.Table.LeafNames())

	snap, err := c.Snapshot("t")
	require.NoError(t, err)
	assert.Same(t, res.Table, snap.Table)
	assert.Equal(t, []int64{150, 250, 350}, keys(t, c, "t"))

	meta, err := ReadMeta(partition.DefPath(c.base("t")))
	require.NoError(t, err)
	assert.Len(t, meta.Partition.Partitions, 4)
}

func TestFailedAlterIsCompletedInProcess(t *testing.T) {
	crash := errors.New("crash")
	c := openCatalog(t, t.TempDir(), &alter.Hooks{After: func(s alter.State) error {
		if s == alter.StateMetadataSwapped {
			return crash
		}
		return nil
	}})
	defer c.Close()
	require.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), false))
	insert(t, c, "t", 150, 250)

	_, err := c.Alter(context.Background(), "t", "DROP PARTITION", func(tbl *partition.Table) (*partition.Change, error) {
		return partition.DropPartitions(tbl.Def, []string{"p1"})
	})
	require.ErrorIs(t, err, crash)

	snap, err := c.Snapshot("t")
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p2"}, snap.Table.LeafNames())
	assert.Equal(t, []int64{250}, keys(t, c, "t"))
}

func TestStartupRecovery(t *testing.T) {
	dir := t.TempDir()
	c := openCatalog(t, dir, nil)
	require.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), false))
	require.NoError(t, c.Create("u", metaFor(t, rangeSQL, filestore.ID), false))
	insert(t, c, "t", 1)
	require.NoError(t, c.Close())

	base := filepath.Join(dir, "t")
	shadow := partition.ShadowPath(partition.ParPath(base))
	orphan := partition.ShadowPath(partition.DefPath(filepath.Join(dir, "u")))
	require.NoError(t, os.WriteFile(shadow, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0644))

	ddl, err := ddllog.Open(filepath.Join(dir, LogFile), nil)
	require.NoError(t, err)
	_, err = ddl.Begin(ddllog.Op{ID: "op1", Table: "t", Kind: "ADD PARTITION",
		Rollback: []ddllog.Entry{{Action: ddllog.ActionDelete, Target: shadow}}})
	require.NoError(t, err)
	// u cannot be recovered: its forward chain names an unknown engine
	_, err = ddl.Begin(ddllog.Op{ID: "op2", Table: "u", Kind: "REBUILD PARTITION",
		Forward: []ddllog.Entry{{Action: ddllog.ActionDelete, Engine: 9, Target: base + "#P#zz"}}})
	require.NoError(t, err)
	require.NoError(t, ddl.Commit("u"))
	require.NoError(t, ddl.Close())

	c = openCatalog(t, dir, nil)
	defer c.Close()

	assert.NoFileExists(t, shadow)
	assert.FileExists(t, orphan, "shadows of a failed recovery are kept")
	assert.Equal(t, []int64{1}, keys(t, c, "t"))

	_, err = c.Acquire(context.Background(), "u")
	assert.True(t, errkind.Is(err, errkind.ErrTableDisabled))
	tables := c.Tables()
	require.Len(t, tables, 2)
	assert.Error(t, tables[1].Disabled)

	require.NoError(t, c.Drop(context.Background(), "u", false))
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, partition.ParPath(filepath.Join(dir, "u")))
	assert.Len(t, c.Tables(), 1)
	root, err := c.ddl.Root("u")
	require.NoError(t, err)
	assert.Nil(t, root)
}

func TestRenameAndDrop(t *testing.T) {
	dir := t.TempDir()
	c := openCatalog(t, dir, nil)
	defer c.Close()
	require.NoError(t, c.Create("t", metaFor(t, rangeSQL, filestore.ID), false))
	require.NoError(t, c.Create("other", metaFor(t, rangeSQL, memstore.ID), false))
	insert(t, c, "t", 5, 150)

	assert.True(t, errkind.Is(c.Rename(context.Background(), "t", "other"), errkind.ErrTableExists))
	require.NoError(t, c.Rename(context.Background(), "t", "u"))

	_, err := c.Acquire(context.Background(), "t")
	assert.True(t, errkind.Is(err, errkind.ErrTableNotFound))
	assert.Equal(t, []int64{5, 150}, keys(t, c, "u"))
	assert.FileExists(t, partition.DefPath(filepath.Join(dir, "u")))
	assert.FileExists(t, filepath.Join(dir, "u#P#p1"))

	require.NoError(t, c.Drop(context.Background(), "u", false))
	assert.NoFileExists(t, filepath.Join(dir, "u#P#p1"))
	assert.NoFileExists(t, partition.DefPath(filepath.Join(dir, "u")))
	assert.True(t, errkind.Is(c.Drop(context.Background(), "u", false), errkind.ErrTableNotFound))
	assert.NoError(t, c.Drop(context.Background(), "u", true))
}

func TestMetaRoundTrip(t *testing.T) {
	m := metaFor(t, `CREATE TABLE t (k Nullable(Int32), s String) PARTITION BY KEY (s) PARTITIONS 2`, memstore.ID)
	data, err := m.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"t"`)

	path := filepath.Join(t.TempDir(), "t.def")
	require.NoError(t, os.WriteFile(path, data, 0644))
	back, err := ReadMeta(path)
	require.NoError(t, err)
	schema, err := back.Schema()
	require.NoError(t, err)
	assert.True(t, schema.Columns[0].Nullable)
	assert.Equal(t, types.TypeInt32, schema.Columns[0].DataType)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err = ReadMeta(path)
	assert.True(t, errkind.Is(err, errkind.ErrCorruption))
}
