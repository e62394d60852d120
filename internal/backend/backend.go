// Package backend declares the single-partition storage interfaces that a
// partitioned table drives, and the helpers shared by the bundled
// backends.
package backend

import (
	"context"
	"time"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/harshithgowdakt/partdb/internal/types"
)

// ErrLeafNotFound is returned when a leaf path has no stored table.
var ErrLeafNotFound = errors.NewKind("leaf %s does not exist")

// ErrLeafExists is returned by Create when the path is taken.
var ErrLeafExists = errors.NewKind("leaf %s already exists")

// OpenMode selects how a leaf is opened.
type OpenMode int

const (
	ReadWrite OpenMode = iota
	ReadOnly
)

// LockMode is a table lock level.
type LockMode int

const (
	LockShared LockMode = iota + 1
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockShared:
		return "shared"
	case LockExclusive:
		return "exclusive"
	}
	return "none"
}

// Position is an opaque backend-local row token.
type Position []byte

// Stats describes one leaf.
type Stats struct {
	Rows       uint64
	DataBytes  uint64
	UpdateTime time.Time

	// Capability flags.
	OrderedScan bool
	Durable     bool
}

// Cursor reads rows from one leaf. Next returns io.EOF at end of data.
type Cursor interface {
	Next() (types.Row, error)
	Close() error
}

// Handler is an open leaf.
type Handler interface {
	Close() error

	Write(row types.Row) error
	// WriteBatch writes rows as one unit where the backend supports it.
	WriteBatch(rows []types.Row) error
	Update(old, new types.Row) error
	Delete(row types.Row) error

	// Scan opens a cursor. An ordered cursor returns rows in key order.
	Scan(ordered bool) (Cursor, error)
	Seek(pos Position) (types.Row, error)
	Position(row types.Row) (Position, error)
	ComparePositions(a, b Position) int

	Lock(ctx context.Context, mode LockMode) error
	Unlock(mode LockMode)

	Info() (Stats, error)
}

// Engine creates, opens and removes leaves of one storage kind.
type Engine interface {
	ID() uint8
	Name() string

	Create(path string, schema *types.Schema) error
	Open(path string, schema *types.Schema, mode OpenMode) (Handler, error)
	// Drop and Rename return ErrLeafNotFound when the source is missing.
	Drop(path string) error
	Rename(from, to string) error
	Exists(path string) bool
}
