// Package config loads server settings from a file, PARTDB_* environment
// variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/harshithgowdakt/partdb/internal/compression"
	"github.com/harshithgowdakt/partdb/internal/errkind"
)

// EnvPrefix prefixes every environment variable, so bulk_copy.workers is
// read from PARTDB_BULK_COPY_WORKERS.
const EnvPrefix = "PARTDB"

// What INSERT does with a row that has no partition.
const (
	OnNoPartitionAbort = "abort"
	OnNoPartitionSkip  = "skip"
)

type Config struct {
	DataDir       string        `mapstructure:"data_dir"`
	Addr          string        `mapstructure:"addr"`
	DefaultEngine string        `mapstructure:"default_engine"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	AlterTimeout  time.Duration `mapstructure:"alter_timeout"`

	// PruneCacheSize is the number of pruning results cached per table.
	PruneCacheSize int      `mapstructure:"prune_cache_size"`
	Compression    string   `mapstructure:"compression"`
	BulkCopy       BulkCopy `mapstructure:"bulk_copy"`
	Insert         Insert   `mapstructure:"insert"`
	Log            Log      `mapstructure:"log"`
}

// BulkCopy tunes the row copy of partition alterations.
type BulkCopy struct {
	Workers   int `mapstructure:"workers"`
	BatchRows int `mapstructure:"batch_rows"`
}

type Insert struct {
	OnNoPartition string `mapstructure:"on_no_partition"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"data_dir":               "./partdb-data",
	"addr":                   ":8123",
	"default_engine":         "Memory",
	"lock_timeout":           50 * time.Second,
	"alter_timeout":          5 * time.Second,
	"prune_cache_size":       256,
	"compression":            "lz4",
	"bulk_copy.workers":      4,
	"bulk_copy.batch_rows":   1024,
	"insert.on_no_partition": OnNoPartitionAbort,
	"log.level":              "info",
	"log.format":             "text",
}

// Load reads the configuration. file may be empty. Flags that were set
// on the command line override the environment, which overrides the file.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}
	if flags != nil {
		var err error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, ok := defaults[key]; ok && err == nil {
				err = v.BindPFlag(key, f)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have a closed set of choices.
func (c *Config) Validate() error {
	switch c.Insert.OnNoPartition {
	case OnNoPartitionAbort, OnNoPartitionSkip:
	default:
		return errkind.ErrDefinition.New(fmt.Sprintf("insert.on_no_partition must be %q or %q, got %q",
			OnNoPartitionAbort, OnNoPartitionSkip, c.Insert.OnNoPartition))
	}
	if _, err := compression.ByName(c.Compression); err != nil {
		return err
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	return nil
}

// Codec returns the configured block codec.
func (c *Config) Codec() compression.Codec {
	codec, _ := compression.ByName(c.Compression)
	return codec
}

// SkipUnroutable reports whether INSERT skips rows without a partition.
func (c *Config) SkipUnroutable() bool { return c.Insert.OnNoPartition == OnNoPartitionSkip }
