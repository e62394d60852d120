// Package catalog owns the tables of a data directory: their definition
// and boundary files, the live snapshot of each table, the gate that
// separates statements from alterations, and crash recovery at startup.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harshithgowdakt/partdb/internal/alter"
	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/ddllog"
	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/metrics"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/pruner"
	"github.com/harshithgowdakt/partdb/internal/router"
)

// LogFile is the name of the DDL log inside the data directory.
const LogFile = "ddl.log"

// Options configure a Catalog.
type Options struct {
	DataDir string
	Engines *backend.Registry

	// LockTimeout bounds the wait of a statement for its table.
	LockTimeout time.Duration
	// AlterTimeout bounds the wait of an alteration for exclusive access.
	AlterTimeout time.Duration

	PruneCacheSize int
	// RecoveryWorkers is the number of tables recovered concurrently.
	RecoveryWorkers int

	Alter   alter.Options
	Log     *logrus.Entry
	Metrics *metrics.Metrics
}

// Catalog is the table registry of one data directory. It is created once
// and handed to everything that needs tables.
type Catalog struct {
	opts    Options
	engines *backend.Registry
	ddl     *ddllog.Log
	alt     *alter.Alterer
	log     *logrus.Entry
	m       *metrics.Metrics

	mu     sync.Mutex
	shares map[string]*share
}

// Open opens the data directory, finishes or undoes every alteration a
// crash left behind and loads the tables.
func Open(opts Options) (*Catalog, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 50 * time.Second
	}
	if opts.AlterTimeout <= 0 {
		opts.AlterTimeout = opts.LockTimeout
	}
	if opts.RecoveryWorkers <= 0 {
		opts.RecoveryWorkers = 4
	}
	if opts.Alter.Log == nil {
		opts.Alter.Log = opts.Log
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	ddl, err := ddllog.Open(filepath.Join(opts.DataDir, LogFile), opts.Log)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		opts:    opts,
		engines: opts.Engines,
		ddl:     ddl,
		alt:     alter.New(ddl, opts.Engines, opts.Alter),
		log:     opts.Log.WithField("component", "catalog"),
		m:       opts.Metrics,
		shares:  make(map[string]*share),
	}
	if err := c.startup(); err != nil {
		ddl.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) base(name string) string { return filepath.Join(c.opts.DataDir, name) }

func (c *Catalog) startup() error {
	if n, err := c.ddl.GC(); err != nil {
		return err
	} else if n > 0 {
		c.log.Infof("removed %d unreachable ddl log entries", n)
	}

	failed, err := c.recoverAll()
	if err != nil {
		return err
	}
	if err := c.sweepShadows(failed); err != nil {
		return err
	}

	entries, err := os.ReadDir(c.opts.DataDir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		name, ok := strings.CutSuffix(de.Name(), ".def")
		if !ok || de.IsDir() {
			continue
		}
		if cause, bad := failed[name]; bad {
			c.disable(name, cause)
			continue
		}
		if err := c.load(name); err != nil {
			c.disable(name, err)
		}
	}
	for name, cause := range failed {
		if _, ok := c.shares[name]; !ok {
			c.disable(name, cause)
		}
	}
	c.log.Infof("loaded %d tables from %s", len(c.shares), c.opts.DataDir)
	return nil
}

// recoverAll replays every outstanding operation and returns the tables
// whose replay failed.
func (c *Catalog) recoverAll() (map[string]error, error) {
	roots, err := c.ddl.Pending()
	if err != nil {
		return nil, err
	}
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		g      errgroup.Group
	)
	g.SetLimit(c.opts.RecoveryWorkers)
	for _, root := range roots {
		table := root.Table
		g.Go(func() error {
			phase, err := c.alt.Recover(table)
			c.m.Recovered(string(phase), err)
			if err != nil {
				c.log.WithError(err).WithField("table", table).Error("recovery failed")
				mu.Lock()
				failed[table] = err
				mu.Unlock()
			}
			return nil
		})
	}
	return failed, g.Wait()
}

// sweepShadows removes shadow files no outstanding operation refers to.
func (c *Catalog) sweepShadows(keep map[string]error) error {
	entries, err := os.ReadDir(c.opts.DataDir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		name := de.Name()
		if !strings.HasSuffix(name, "~") {
			continue
		}
		table := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(name, "~"), ".par"), ".def")
		if _, ok := keep[table]; ok {
			continue
		}
		c.log.Warnf("removing orphan shadow file %s", name)
		if err := os.Remove(filepath.Join(c.opts.DataDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// load reads a table's definition and recreates missing leaves of
// volatile engines.
func (c *Catalog) load(name string) error {
	base := c.base(name)
	meta, err := ReadMeta(partition.DefPath(base))
	if err != nil {
		return err
	}
	snap, err := c.newSnapshot(meta)
	if err != nil {
		return err
	}
	engine, err := c.engines.ByID(snap.Table.Engine())
	if err != nil {
		return errkind.ErrDefinition.New(err.Error())
	}
	for _, path := range dispatch.LeafPaths(snap.Table, base) {
		if !engine.Exists(path) {
			if err := engine.Create(path, snap.Schema); err != nil {
				return err
			}
		}
	}
	c.shares[name] = newShare(name, base, snap)
	return nil
}

func (c *Catalog) newSnapshot(meta *Meta) (*Snapshot, error) {
	return newSnapshot(meta, c.opts.PruneCacheSize)
}

func (c *Catalog) newPruner(t *partition.Table) *pruner.Pruner {
	return pruner.New(router.New(t), c.opts.PruneCacheSize)
}

func (c *Catalog) disable(name string, cause error) {
	c.log.WithError(cause).Warnf("table %s is disabled, only DROP TABLE is allowed", name)
	s := newShare(name, c.base(name), nil)
	s.disabled = cause
	c.shares[name] = s
}

// Close closes the DDL log. References still held are reported.
func (c *Catalog) Close() error {
	c.mu.Lock()
	for _, s := range c.shares {
		if s.refs > 0 {
			c.log.Warnf("table %s closed with %d open references", s.name, s.refs)
		}
	}
	c.mu.Unlock()
	return c.ddl.Close()
}

// Engines returns the engine registry.
func (c *Catalog) Engines() *backend.Registry { return c.engines }

// TableInfo is one entry of the table list.
type TableInfo struct {
	Name     string
	Engine   string
	Disabled error
	Refs     int
}

// Tables lists every table sorted by name, disabled ones included.
func (c *Catalog) Tables() []TableInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TableInfo, 0, len(c.shares))
	for _, s := range c.shares {
		info := TableInfo{Name: s.name, Disabled: s.disabled, Refs: s.refs}
		if snap := s.snap.Load(); snap != nil {
			if e, err := c.engines.ByID(snap.Table.Engine()); err == nil {
				info.Engine = e.Name()
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ref takes a counted reference to a share.
func (c *Catalog) ref(name string, allowDisabled bool) (*share, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shares[name]
	if !ok {
		return nil, errkind.ErrTableNotFound.New(name)
	}
	if s.disabled != nil && !allowDisabled {
		return nil, errkind.ErrTableDisabled.New(name, s.disabled.Error())
	}
	s.refs++
	return s, nil
}

func (c *Catalog) unref(s *share) {
	c.mu.Lock()
	s.refs--
	c.mu.Unlock()
}

func (c *Catalog) isGone(s *share) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.gone
}

// Acquire returns a reference to a table for one statement. It waits up to
// the lock timeout while an alteration holds the table.
func (c *Catalog) Acquire(ctx context.Context, name string) (*Ref, error) {
	s, err := c.ref(name, false)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()
	if err := s.gate.Acquire(ctx, backend.LockShared); err != nil {
		c.unref(s)
		return nil, errkind.ErrConcurrencyConflict.New(name, "lock wait timeout exceeded")
	}
	if c.isGone(s) {
		s.gate.Release(backend.LockShared)
		c.unref(s)
		return nil, errkind.ErrTableNotFound.New(name)
	}
	return &Ref{c: c, s: s, snap: s.snap.Load()}, nil
}

// exclusive runs fn holding the whole gate of a table.
func (c *Catalog) exclusive(ctx context.Context, name string, allowDisabled bool, fn func(s *share) error) error {
	s, err := c.ref(name, allowDisabled)
	if err != nil {
		return err
	}
	defer c.unref(s)
	actx, cancel := context.WithTimeout(ctx, c.opts.AlterTimeout)
	defer cancel()
	if err := s.gate.Acquire(actx, backend.LockExclusive); err != nil {
		return errkind.ErrConcurrencyConflict.New(name, "could not get exclusive access within "+c.opts.AlterTimeout.String())
	}
	defer s.gate.Release(backend.LockExclusive)
	if c.isGone(s) {
		return errkind.ErrTableNotFound.New(name)
	}
	return fn(s)
}

// Create creates the leaves and files of a new table. The definition file
// is written last; a table exists once it is.
func (c *Catalog) Create(name string, meta *Meta, ifNotExists bool) error {
	if err := ValidName(name); err != nil {
		return err
	}
	snap, err := c.newSnapshot(meta)
	if err != nil {
		return err
	}
	engine, err := c.engines.ByID(snap.Table.Engine())
	if err != nil {
		return errkind.ErrDefinition.New(err.Error())
	}
	data, err := meta.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shares[name]; ok {
		if ifNotExists {
			return nil
		}
		return errkind.ErrTableExists.New(name)
	}
	base := c.base(name)
	paths := dispatch.LeafPaths(snap.Table, base)
	undo := func(n int) {
		for _, p := range paths[:n] {
			engine.Drop(p)
		}
		os.Remove(partition.ParPath(base))
	}
	for i, path := range paths {
		if err := engine.Create(path, snap.Schema); err != nil {
			undo(i)
			return err
		}
	}
	if err := partition.WriteParFile(partition.ParPath(base), partition.ParFileOf(meta.Partition)); err != nil {
		undo(len(paths))
		return err
	}
	if err := partition.WriteFileAtomic(partition.DefPath(base), data); err != nil {
		undo(len(paths))
		return err
	}
	c.shares[name] = newShare(name, base, snap)
	c.log.WithField("table", name).Infof("created table with %d leaf partitions (%s)", len(paths), engine.Name())
	return nil
}

// Alter applies the change built from the live table. The caller's
// statement must not hold a reference to the same table.
func (c *Catalog) Alter(ctx context.Context, name, kind string, build func(*partition.Table) (*partition.Change, error)) (*alter.Result, error) {
	var res *alter.Result
	err := c.exclusive(ctx, name, false, func(s *share) error {
		old := s.snap.Load()
		change, err := build(old.Table)
		if err != nil {
			return err
		}
		meta := old.Meta.WithPartition(change.New)
		data, err := meta.Encode()
		if err != nil {
			return err
		}
		res, err = c.alt.Run(ctx, alter.Request{
			Table: name, Base: s.base, Kind: kind, Old: old.Table, Change: change, Meta: data,
		})
		c.m.Altered(kind, err)
		if err != nil {
			c.afterFailure(s)
			return err
		}
		s.snap.Store(&Snapshot{Meta: meta, Schema: old.Schema, Table: res.Table,
			Pruner: c.newPruner(res.Table)})
		return nil
	})
	return res, err
}

// afterFailure finishes an alteration that failed with its log root still
// in place, and disables the table when that fails too.
func (c *Catalog) afterFailure(s *share) {
	root, err := c.ddl.Root(s.name)
	if err == nil && root == nil {
		return
	}
	if err == nil {
		_, err = c.alt.Recover(s.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Errorf("table %s could not be recovered", s.name)
		s.disabled = err
		return
	}
	meta, err := ReadMeta(partition.DefPath(s.base))
	if err == nil {
		var snap *Snapshot
		if snap, err = c.newSnapshot(meta); err == nil {
			s.snap.Store(snap)
			return
		}
	}
	s.disabled = err
}

// Drop removes a table. A disabled table is dropped with whatever leaves
// and files it has left.
func (c *Catalog) Drop(ctx context.Context, name string, ifExists bool) error {
	err := c.exclusive(ctx, name, true, func(s *share) error {
		c.mu.Lock()
		disabled := s.disabled
		c.mu.Unlock()

		if disabled != nil {
			if err := c.ddl.Clear(name); err != nil {
				return err
			}
			if err := c.alt.DropTable(name, s.base); err != nil {
				c.log.WithError(err).Warnf("dropping disabled table %s", name)
			}
			c.sweep(s.base)
		} else if err := c.alt.DropTable(name, s.base); err != nil {
			c.afterFailure(s)
			return err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		s.gone = true
		delete(c.shares, name)
		return nil
	})
	if ifExists && errkind.Is(err, errkind.ErrTableNotFound) {
		return nil
	}
	return err
}

// sweep removes every file left under a table's base path.
func (c *Catalog) sweep(base string) {
	dir, prefix := filepath.Split(base)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		n := de.Name()
		if strings.HasPrefix(n, prefix+"#") || strings.HasPrefix(n, prefix+".") {
			c.log.Warnf("removing leftover file %s", n)
			os.Remove(filepath.Join(dir, n))
		}
	}
}

// Rename moves a table to a new name.
func (c *Catalog) Rename(ctx context.Context, from, to string) error {
	if err := ValidName(to); err != nil {
		return err
	}
	return c.exclusive(ctx, from, false, func(s *share) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.shares[to]; ok {
			return errkind.ErrTableExists.New(to)
		}
		if err := c.alt.RenameTable(from, s.base, c.base(to)); err != nil {
			return err
		}
		s.gone = true
		delete(c.shares, from)
		c.shares[to] = newShare(to, c.base(to), s.snap.Load())
		return nil
	})
}

// Snapshot returns the live snapshot of a table without taking a
// reference.
func (c *Catalog) Snapshot(name string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shares[name]
	if !ok {
		return nil, errkind.ErrTableNotFound.New(name)
	}
	if s.disabled != nil {
		return nil, errkind.ErrTableDisabled.New(name, s.disabled.Error())
	}
	return s.snap.Load(), nil
}
