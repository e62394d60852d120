// Package ddllog is the durable log of structural changes. An operation is
// two linked lists of idempotent entries, a rollback chain and a forward
// chain, hanging off a per-table root. The root records which chain is
// live and how far replay has come.
package ddllog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/harshithgowdakt/partdb/internal/errkind"
)

var (
	entriesBucket = []byte("entries")
	rootsBucket   = []byte("roots")
)

// Action is what an entry does to its target.
type Action uint8

const (
	// ActionReplace moves Source over Target, replacing it.
	ActionReplace Action = iota + 1
	// ActionDelete removes Target.
	ActionDelete
	// ActionRename moves Source to Target.
	ActionRename
)

func (a Action) String() string {
	switch a {
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	case ActionRename:
		return "RENAME"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// FileEngine marks entries on plain files rather than backend leaves.
const FileEngine uint8 = 0

// Entry is one step. Replaying an entry whose source or target is already
// gone is not an error.
type Entry struct {
	ID     uint64 `json:"id"`
	Action Action `json:"action"`
	Engine uint8  `json:"engine,omitempty"`
	Target string `json:"target"`
	Source string `json:"source,omitempty"`
	Next   uint64 `json:"next,omitempty"`
}

func (e Entry) String() string {
	if e.Source != "" {
		return fmt.Sprintf("#%d %s %s -> %s", e.ID, e.Action, e.Source, e.Target)
	}
	return fmt.Sprintf("#%d %s %s", e.ID, e.Action, e.Target)
}

// Phase names the live chain of an operation.
type Phase string

const (
	PhaseRollback Phase = "rollback"
	PhaseForward  Phase = "forward"
)

// Root is the state of the one outstanding operation of a table.
type Root struct {
	OpID     string `json:"op_id"`
	Table    string `json:"table"`
	Kind     string `json:"kind"`
	Phase    Phase  `json:"phase"`
	Rollback uint64 `json:"rollback"`
	Forward  uint64 `json:"forward"`
	// Cursor is the next entry to replay in the live chain, 0 when the
	// chain is done.
	Cursor uint64 `json:"cursor"`
}

// Head returns the first entry of the live chain.
func (r *Root) Head() uint64 {
	if r.Phase == PhaseForward {
		return r.Forward
	}
	return r.Rollback
}

// Op is an operation to log. Entries run in slice order.
type Op struct {
	ID       string
	Table    string
	Kind     string
	Rollback []Entry
	Forward  []Entry
}

// Log is the DDL log of one data directory.
type Log struct {
	db  *bolt.DB
	log *logrus.Entry
}

// Open opens or creates the log file.
func Open(path string, log *logrus.Entry) (*Log, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening ddl log %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(rootsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ddl log: %w", err)
	}
	return &Log{db: db, log: log.WithField("component", "ddllog")}, nil
}

// Close closes the log file.
func (l *Log) Close() error { return l.db.Close() }

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// appendChain writes entries last to first so that every Next points at an
// entry that is already stored. It returns the head id.
func appendChain(b *bolt.Bucket, chain []Entry) (uint64, error) {
	var next uint64
	for i := len(chain) - 1; i >= 0; i-- {
		id, err := b.NextSequence()
		if err != nil {
			return 0, err
		}
		e := chain[i]
		e.ID, e.Next = id, next
		data, err := json.Marshal(e)
		if err != nil {
			return 0, err
		}
		if err := b.Put(itob(id), data); err != nil {
			return 0, err
		}
		next = id
	}
	return next, nil
}

func putRoot(tx *bolt.Tx, r *Root) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return tx.Bucket(rootsBucket).Put([]byte(r.Table), data)
}

func getRoot(tx *bolt.Tx, table string) (*Root, error) {
	data := tx.Bucket(rootsBucket).Get([]byte(table))
	if data == nil {
		return nil, nil
	}
	var r Root
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errkind.ErrCorruption.New("ddl log root "+table, err.Error())
	}
	return &r, nil
}

func getEntry(tx *bolt.Tx, id uint64) (Entry, error) {
	data := tx.Bucket(entriesBucket).Get(itob(id))
	if data == nil {
		return Entry{}, errkind.ErrCorruption.New("ddl log", fmt.Sprintf("entry %d is missing", id))
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, errkind.ErrCorruption.New("ddl log", fmt.Sprintf("entry %d: %v", id, err))
	}
	return e, nil
}

// Begin logs an operation. The rollback chain is stored first, then the
// forward chain, then the root with the rollback chain live. A table can
// have one outstanding operation.
func (l *Log) Begin(op Op) (*Root, error) {
	var root *Root
	err := l.db.Update(func(tx *bolt.Tx) error {
		if r, err := getRoot(tx, op.Table); err != nil {
			return err
		} else if r != nil {
			return fmt.Errorf("table %s has an outstanding operation %s", op.Table, r.OpID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rollback, forward uint64
	if err := l.db.Update(func(tx *bolt.Tx) (err error) {
		rollback, err = appendChain(tx.Bucket(entriesBucket), op.Rollback)
		return err
	}); err != nil {
		return nil, fmt.Errorf("logging rollback chain: %w", err)
	}
	if err := l.db.Update(func(tx *bolt.Tx) (err error) {
		forward, err = appendChain(tx.Bucket(entriesBucket), op.Forward)
		return err
	}); err != nil {
		return nil, fmt.Errorf("logging forward chain: %w", err)
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		root = &Root{OpID: op.ID, Table: op.Table, Kind: op.Kind, Phase: PhaseRollback,
			Rollback: rollback, Forward: forward, Cursor: rollback}
		return putRoot(tx, root)
	})
	if err != nil {
		return nil, fmt.Errorf("logging root: %w", err)
	}
	l.log.WithField("op", op.ID).Debugf("logged %s of %s: %d rollback, %d forward entries",
		op.Kind, op.Table, len(op.Rollback), len(op.Forward))
	return root, nil
}

// Commit switches the live chain of a table to the forward chain. This is
// the commit point of the operation.
func (l *Log) Commit(table string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		r, err := getRoot(tx, table)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("table %s has no outstanding operation", table)
		}
		r.Phase, r.Cursor = PhaseForward, r.Forward
		return putRoot(tx, r)
	})
}

// Root returns the outstanding operation of a table, or nil.
func (l *Log) Root(table string) (*Root, error) {
	var r *Root
	err := l.db.View(func(tx *bolt.Tx) (err error) {
		r, err = getRoot(tx, table)
		return err
	})
	return r, err
}

// Pending returns every outstanding operation.
func (l *Log) Pending() ([]*Root, error) {
	var roots []*Root
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootsBucket).ForEach(func(k, v []byte) error {
			var r Root
			if err := json.Unmarshal(v, &r); err != nil {
				return errkind.ErrCorruption.New("ddl log root "+string(k), err.Error())
			}
			roots = append(roots, &r)
			return nil
		})
	})
	return roots, err
}

// Replay runs the live chain of a table from its cursor, storing the
// cursor after every entry so that a crash resumes at the entry that was
// running.
func (l *Log) Replay(table string, exec func(Entry) error) error {
	r, err := l.Root(table)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	log := l.log.WithFields(logrus.Fields{"op": r.OpID, "table": table, "phase": r.Phase})
	for r.Cursor != 0 {
		var e Entry
		if err := l.db.View(func(tx *bolt.Tx) (err error) {
			e, err = getEntry(tx, r.Cursor)
			return err
		}); err != nil {
			return err
		}
		log.Debugf("replaying %s", e)
		if err := exec(e); err != nil {
			return errkind.ErrLogReplay.New(table, fmt.Sprintf("%s: %v", e, err))
		}
		if err := l.db.Update(func(tx *bolt.Tx) error {
			cur, err := getRoot(tx, table)
			if err != nil {
				return err
			}
			if cur == nil || cur.OpID != r.OpID {
				return fmt.Errorf("operation %s vanished during replay", r.OpID)
			}
			cur.Cursor = e.Next
			r = cur
			return putRoot(tx, cur)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes the root of a table and every entry of both its chains.
func (l *Log) Clear(table string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		r, err := getRoot(tx, table)
		if err != nil || r == nil {
			return err
		}
		b := tx.Bucket(entriesBucket)
		for _, head := range []uint64{r.Rollback, r.Forward} {
			for id := head; id != 0; {
				data := b.Get(itob(id))
				if data == nil {
					break
				}
				var e Entry
				if err := json.Unmarshal(data, &e); err != nil {
					return errkind.ErrCorruption.New("ddl log", fmt.Sprintf("entry %d: %v", id, err))
				}
				if err := b.Delete(itob(id)); err != nil {
					return err
				}
				id = e.Next
			}
		}
		return tx.Bucket(rootsBucket).Delete([]byte(table))
	})
}

// Chain returns the entries of a chain starting at head.
func (l *Log) Chain(head uint64) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		for id := head; id != 0; {
			e, err := getEntry(tx, id)
			if err != nil {
				return err
			}
			out = append(out, e)
			id = e.Next
		}
		return nil
	})
	return out, err
}

// Entries returns every stored entry in id order.
func (l *Log) Entries() ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errkind.ErrCorruption.New("ddl log", fmt.Sprintf("entry %x: %v", k, err))
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// GC deletes the entries no root reaches. They are left behind by a crash
// between logging the chains and logging the root.
func (l *Log) GC() (int, error) {
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		live := make(map[uint64]bool)
		b := tx.Bucket(entriesBucket)
		err := tx.Bucket(rootsBucket).ForEach(func(k, v []byte) error {
			var r Root
			if err := json.Unmarshal(v, &r); err != nil {
				return errkind.ErrCorruption.New("ddl log root "+string(k), err.Error())
			}
			for _, head := range []uint64{r.Rollback, r.Forward} {
				for id := head; id != 0 && !live[id]; {
					live[id] = true
					data := b.Get(itob(id))
					if data == nil {
						break
					}
					var e Entry
					if err := json.Unmarshal(data, &e); err != nil {
						return errkind.ErrCorruption.New("ddl log", fmt.Sprintf("entry %d: %v", id, err))
					}
					id = e.Next
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		var dead [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			if !live[binary.BigEndian.Uint64(k)] {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(dead)
		return nil
	})
	if removed > 0 {
		l.log.Infof("removed %d unreachable entries", removed)
	}
	return removed, err
}
