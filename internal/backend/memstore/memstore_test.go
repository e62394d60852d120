package memstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/types"
)

func schema() *types.Schema {
	return &types.Schema{
		Columns: []types.ColumnDef{
			{Name: "k", DataType: types.TypeInt64},
			{Name: "v", DataType: types.TypeString},
		},
		OrderBy: []string{"k"},
	}
}

func scanAll(t *testing.T, h backend.Handler) []types.Row {
	t.Helper()
	c, err := h.Scan(true)
	require.NoError(t, err)
	defer c.Close()
	var out []types.Row
	for {
		row, err := c.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, row)
	}
}

func TestLifecycle(t *testing.T) {
	e := New()
	require.NoError(t, e.Create("t#P#p0", schema()))
	assert.True(t, backend.ErrLeafExists.Is(e.Create("t#P#p0", schema())))

	h, err := e.Open("t#P#p0", schema(), backend.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.WriteBatch([]types.Row{{int64(3), "c"}, {int64(1), "a"}}))
	require.NoError(t, h.Write(types.Row{int64(2), "b"}))
	require.NoError(t, h.Close())

	require.NoError(t, e.Rename("t#P#p0", "u#P#p0"))
	assert.False(t, e.Exists("t#P#p0"))
	_, err = e.Open("t#P#p0", schema(), backend.ReadOnly)
	assert.True(t, backend.ErrLeafNotFound.Is(err))

	h, err = e.Open("u#P#p0", schema(), backend.ReadOnly)
	require.NoError(t, err)
	rows := scanAll(t, h)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, int64(3), rows[2][0])

	err = h.Write(types.Row{int64(9), "z"})
	assert.True(t, errkind.Is(err, errkind.ErrBackend))
	require.NoError(t, h.Close())

	require.NoError(t, e.Drop("u#P#p0"))
	assert.True(t, backend.ErrLeafNotFound.Is(e.Drop("u#P#p0")))
}

func TestUpdateDeleteErrors(t *testing.T) {
	e := New()
	require.NoError(t, e.Create("l", schema()))
	h, err := e.Open("l", schema(), backend.ReadWrite)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Write(types.Row{int64(1), "a"}))
	require.NoError(t, h.Update(types.Row{int64(1), "a"}, types.Row{int64(1), "b"}))

	err = h.Delete(types.Row{int64(7), "x"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrBackend))

	err = h.Write(types.Row{int64(1), "again"})
	assert.True(t, errkind.Is(err, errkind.ErrBackend))

	st, err := h.Info()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Rows)
	assert.True(t, st.OrderedScan)
	assert.False(t, st.Durable)
}

func TestPositions(t *testing.T) {
	e := New()
	require.NoError(t, e.Create("l", schema()))
	h, err := e.Open("l", schema(), backend.ReadWrite)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.WriteBatch([]types.Row{{int64(10), "ten"}, {int64(20), "twenty"}}))

	p10, err := h.Position(types.Row{int64(10), "ten"})
	require.NoError(t, err)
	p20, err := h.Position(types.Row{int64(20), "twenty"})
	require.NoError(t, err)
	assert.Equal(t, -1, h.ComparePositions(p10, p20))

	row, err := h.Seek(p20)
	require.NoError(t, err)
	assert.Equal(t, "twenty", row[1])

	require.NoError(t, h.Delete(row))
	_, err = h.Seek(p20)
	require.Error(t, err)
}

func TestLocks(t *testing.T) {
	e := New()
	require.NoError(t, e.Create("l", schema()))
	h1, err := e.Open("l", schema(), backend.ReadWrite)
	require.NoError(t, err)
	h2, err := e.Open("l", schema(), backend.ReadWrite)
	require.NoError(t, err)
	defer h2.Close()

	require.NoError(t, h1.Lock(context.Background(), backend.LockExclusive))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h2.Lock(ctx, backend.LockShared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock wait timeout")

	// closing the holder releases its locks
	require.NoError(t, h1.Close())
	require.NoError(t, h2.Lock(context.Background(), backend.LockShared))
	h2.Unlock(backend.LockShared)
}
