package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshithgowdakt/partdb/internal/compression"
	"github.com/harshithgowdakt/partdb/internal/errkind"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8123", cfg.Addr)
	assert.Equal(t, "Memory", cfg.DefaultEngine)
	assert.Equal(t, 50*time.Second, cfg.LockTimeout)
	assert.Equal(t, 4, cfg.BulkCopy.Workers)
	assert.False(t, cfg.SkipUnroutable())
	assert.IsType(t, &compression.LZ4Codec{}, cfg.Codec())
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "partdb.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
data_dir: /from/file
addr: ":9000"
compression: none
bulk_copy:
  workers: 2
  batch_rows: 10
insert:
  on_no_partition: skip
`), 0644))
	t.Setenv("PARTDB_ADDR", ":9100")
	t.Setenv("PARTDB_BULK_COPY_WORKERS", "8")
	t.Setenv("PARTDB_ALTER_TIMEOUT", "250ms")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("data-dir", "", "")
	flags.String("addr", "", "")
	require.NoError(t, flags.Parse([]string{"--data-dir", "/from/flag"}))

	cfg, err := Load(file, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, 8, cfg.BulkCopy.Workers)
	assert.Equal(t, 10, cfg.BulkCopy.BatchRows)
	assert.Equal(t, 250*time.Millisecond, cfg.AlterTimeout)
	assert.True(t, cfg.SkipUnroutable())
	assert.IsType(t, &compression.NoneCodec{}, cfg.Codec())
}

func TestValidate(t *testing.T) {
	t.Setenv("PARTDB_INSERT_ON_NO_PARTITION", "ignore")
	_, err := Load("", nil)
	assert.True(t, errkind.Is(err, errkind.ErrDefinition))

	t.Setenv("PARTDB_INSERT_ON_NO_PARTITION", "abort")
	t.Setenv("PARTDB_COMPRESSION", "zstd")
	_, err = Load("", nil)
	assert.Error(t, err)
}
