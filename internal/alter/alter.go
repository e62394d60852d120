// Package alter runs structural changes of partitioned tables as a logged,
// crash-safe sequence of steps. Until the commit point a failure or crash
// rolls everything back; after it, recovery completes the change.
package alter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/ddllog"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/router"
)

// Options tune an Alterer.
type Options struct {
	// Workers is the number of leaves copied concurrently.
	Workers int
	// BatchRows is the number of rows written to a leaf at once.
	BatchRows int
	Hooks     *Hooks
	Log       *logrus.Entry
}

// Alterer applies partition changes.
type Alterer struct {
	ddl     *ddllog.Log
	engines *backend.Registry
	opts    Options
	log     *logrus.Entry
}

// New returns an Alterer logging to ddl.
func New(ddl *ddllog.Log, engines *backend.Registry, opts Options) *Alterer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchRows <= 0 {
		opts.BatchRows = 1024
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Alterer{ddl: ddl, engines: engines, opts: opts, log: opts.Log.WithField("component", "alter")}
}

// Request is one alteration of a table.
type Request struct {
	Table string
	// Base is the storage path prefix of the table.
	Base string
	// Kind names the command, for logs.
	Kind   string
	Old    *partition.Table
	Change *partition.Change
	// Meta is the content of the new definition file.
	Meta []byte
}

// Result describes a completed alteration.
type Result struct {
	OpID  string
	Table *partition.Table
	// Moved is the number of rows copied into new leaves.
	Moved int64
}

// Run applies a change. On success the new table is returned and every
// leaf, file and log entry is in its final state. An error before the
// commit point leaves the table exactly as it was.
func (a *Alterer) Run(ctx context.Context, req Request) (*Result, error) {
	opID := uuid.New().String()
	log := a.log.WithFields(logrus.Fields{"op": opID, "table": req.Table, "kind": req.Kind})
	start := time.Now()

	if root, err := a.ddl.Root(req.Table); err != nil {
		return nil, err
	} else if root != nil {
		return nil, errkind.ErrConcurrencyConflict.New(req.Table, "operation "+root.OpID+" is still outstanding")
	}
	nw, err := partition.Bind(req.Change.New, req.Old.Schema)
	if err != nil {
		return nil, err
	}
	p := newPlan(req.Base, req.Old, nw, req.Change)
	log.Debugf("%s: %d new leaves from %d source leaves, %d leaves removed",
		StatePlanned, len(p.fresh), len(p.sources), len(p.removed))
	if err := a.opts.Hooks.after(StatePlanned); err != nil {
		return nil, err
	}

	engine, err := a.engines.ByID(p.engine)
	if err != nil {
		return nil, errkind.ErrDefinition.New(err.Error())
	}

	if err := writeShadows(req.Base, nw.Def, req.Meta); err != nil {
		a.removeShadows(req.Base)
		return nil, err
	}
	if err := a.opts.Hooks.after(StateShadowWritten); err != nil {
		return nil, err
	}

	if _, err := a.ddl.Begin(ddllog.Op{ID: opID, Table: req.Table, Kind: req.Kind,
		Rollback: p.rollback(), Forward: p.forward()}); err != nil {
		a.removeShadows(req.Base)
		return nil, err
	}
	log.Debug(StateLogged)
	if err := a.opts.Hooks.after(StateLogged); err != nil {
		return nil, err
	}

	c := &copier{a: a, p: p, engine: engine, r: router.New(nw), dest: make(map[int]backend.Handler)}
	err = c.createLeaves()
	var moved int64
	if err == nil {
		moved, err = c.run(ctx)
	}
	if cerr := c.closeLeaves(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, a.rollback(req.Table, log, err)
	}
	log.Debugf("%s: copied %d rows", StateBackendApplied, moved)
	if err := a.opts.Hooks.after(StateBackendApplied); err != nil {
		return nil, err
	}

	if err := a.ddl.Commit(req.Table); err != nil {
		return nil, a.rollback(req.Table, log, err)
	}
	log.Debug(StateMetadataSwapped)
	if err := a.opts.Hooks.after(StateMetadataSwapped); err != nil {
		return nil, err
	}

	if err := a.finish(req.Table); err != nil {
		return nil, err
	}
	if err := a.opts.Hooks.after(StateLogCleared); err != nil {
		return nil, err
	}
	log.Infof("%s done in %s, %d rows moved", req.Kind, time.Since(start).Round(time.Millisecond), moved)
	return &Result{OpID: opID, Table: nw, Moved: moved}, nil
}

func writeShadows(base string, def *partition.Definition, meta []byte) error {
	if err := partition.WriteParFile(partition.ShadowPath(partition.ParPath(base)), partition.ParFileOf(def)); err != nil {
		return fmt.Errorf("writing shadow boundary file: %w", err)
	}
	if err := partition.WriteFileAtomic(partition.ShadowPath(partition.DefPath(base)), meta); err != nil {
		return fmt.Errorf("writing shadow definition: %w", err)
	}
	return nil
}

func (a *Alterer) removeShadows(base string) {
	os.Remove(partition.ShadowPath(partition.ParPath(base)))
	os.Remove(partition.ShadowPath(partition.DefPath(base)))
}

// rollback runs the rollback chain after a failure before the commit
// point and returns the original error.
func (a *Alterer) rollback(table string, log *logrus.Entry, cause error) error {
	log.WithError(cause).Warn("alteration failed, rolling back")
	if err := a.finish(table); err != nil {
		log.WithError(err).Error("rollback did not complete, it is retried on restart")
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	log.Info(StateFailedRolledBack)
	return cause
}

// finish replays the live chain of a table and clears its operation.
func (a *Alterer) finish(table string) error {
	if err := a.ddl.Replay(table, a.exec); err != nil {
		return err
	}
	return a.ddl.Clear(table)
}

// Recover completes or undoes the outstanding operation of a table, if
// any. It reports the phase that was replayed.
func (a *Alterer) Recover(table string) (ddllog.Phase, error) {
	root, err := a.ddl.Root(table)
	if err != nil {
		return "", errkind.ErrLogReplay.New(table, err.Error())
	}
	if root == nil {
		return "", nil
	}
	a.log.WithFields(logrus.Fields{"op": root.OpID, "table": table}).
		Infof("recovering %s: replaying %s chain", root.Kind, root.Phase)
	if err := a.finish(table); err != nil {
		if errkind.Is(err, errkind.ErrLogReplay) {
			return root.Phase, err
		}
		return root.Phase, errkind.ErrLogReplay.New(table, err.Error())
	}
	return root.Phase, nil
}

// exec applies one log entry. Missing sources and targets are skipped.
func (a *Alterer) exec(e ddllog.Entry) error {
	if e.Engine == ddllog.FileEngine {
		return execFile(e)
	}
	engine, err := a.engines.ByID(e.Engine)
	if err != nil {
		return err
	}
	switch e.Action {
	case ddllog.ActionDelete:
		if err := engine.Drop(e.Target); err != nil && !errkind.Is(err, backend.ErrLeafNotFound) {
			return err
		}
		return nil
	case ddllog.ActionReplace:
		if !engine.Exists(e.Source) {
			return nil
		}
		if err := engine.Drop(e.Target); err != nil && !errkind.Is(err, backend.ErrLeafNotFound) {
			return err
		}
		return engine.Rename(e.Source, e.Target)
	case ddllog.ActionRename:
		if !engine.Exists(e.Source) {
			return nil
		}
		return engine.Rename(e.Source, e.Target)
	}
	return fmt.Errorf("unknown action %s", e.Action)
}

func execFile(e ddllog.Entry) error {
	switch e.Action {
	case ddllog.ActionDelete:
		if err := os.Remove(e.Target); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	case ddllog.ActionReplace, ddllog.ActionRename:
		if _, err := os.Stat(e.Source); os.IsNotExist(err) {
			return nil
		}
		return os.Rename(e.Source, e.Target)
	}
	return fmt.Errorf("unknown action %s", e.Action)
}

// DropTable removes every leaf and file of a table, working from its
// boundary file alone. The removal is logged so that a crash part way is
// completed on restart.
func (a *Alterer) DropTable(table, base string) error {
	pf, err := partition.ReadParFile(partition.ParPath(base))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	var forward []ddllog.Entry
	if pf != nil {
		for i, name := range pf.Names {
			forward = append(forward, ddllog.Entry{Action: ddllog.ActionDelete, Engine: pf.Engines[i],
				Target: partition.LeafPath(base, name)})
		}
	}
	forward = append(forward,
		ddllog.Entry{Action: ddllog.ActionDelete, Target: partition.ParPath(base)},
		ddllog.Entry{Action: ddllog.ActionDelete, Target: partition.DefPath(base)},
	)
	return a.runForward(ddllog.Op{ID: uuid.New().String(), Table: table, Kind: "DROP TABLE", Forward: forward})
}

// RenameTable moves every leaf and file of a table to a new base path,
// working from its boundary file alone.
func (a *Alterer) RenameTable(table, base, newBase string) error {
	pf, err := partition.ReadParFile(partition.ParPath(base))
	if err != nil {
		return err
	}
	var forward []ddllog.Entry
	for i, name := range pf.Names {
		forward = append(forward, ddllog.Entry{Action: ddllog.ActionRename, Engine: pf.Engines[i],
			Source: partition.LeafPath(base, name), Target: partition.LeafPath(newBase, name)})
	}
	forward = append(forward,
		ddllog.Entry{Action: ddllog.ActionRename, Source: partition.ParPath(base), Target: partition.ParPath(newBase)},
		ddllog.Entry{Action: ddllog.ActionRename, Source: partition.DefPath(base), Target: partition.DefPath(newBase)},
	)
	return a.runForward(ddllog.Op{ID: uuid.New().String(), Table: table, Kind: "RENAME TABLE", Forward: forward})
}

// runForward logs an operation that has nothing to roll back and runs it.
func (a *Alterer) runForward(op ddllog.Op) error {
	if _, err := a.ddl.Begin(op); err != nil {
		return err
	}
	if err := a.ddl.Commit(op.Table); err != nil {
		return err
	}
	if err := a.opts.Hooks.after(StateMetadataSwapped); err != nil {
		return err
	}
	if err := a.finish(op.Table); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"op": op.ID, "table": op.Table}).Infof("%s done", op.Kind)
	return nil
}
