package alter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/router"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// copier fills the fresh leaves of a plan from its source leaves. Every
// source leaf is read by one pool task; rows are routed with the new
// definition and flushed to their destination in batches.
type copier struct {
	a      *Alterer
	p      *plan
	engine backend.Engine
	r      *router.Router
	dest   map[int]backend.Handler

	moved atomic.Int64
	mu    sync.Mutex
	err   error
}

func (c *copier) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *copier) failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// createLeaves creates and opens the temporary leaves.
func (c *copier) createLeaves() error {
	schema := c.p.new.Schema
	for _, id := range c.p.fresh {
		path := c.p.tmpPath(id)
		if err := c.engine.Create(path, schema); err != nil {
			return err
		}
		h, err := c.engine.Open(path, schema, backend.ReadWrite)
		if err != nil {
			return err
		}
		c.dest[id] = h
	}
	return nil
}

func (c *copier) closeLeaves() error {
	var first error
	for id, h := range c.dest {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.dest, id)
	}
	return first
}

func (c *copier) run(ctx context.Context) (int64, error) {
	if len(c.p.sources) == 0 {
		return 0, nil
	}
	pool, err := ants.NewPool(c.a.opts.Workers, ants.WithPanicHandler(func(v any) {
		c.fail(fmt.Errorf("bulk copy panic: %v", v))
	}))
	if err != nil {
		return 0, fmt.Errorf("creating bulk copy pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, id := range c.p.sources {
		id := id
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := c.copyLeaf(ctx, id); err != nil {
				c.fail(err)
			}
		}); err != nil {
			wg.Done()
			c.fail(err)
			break
		}
	}
	wg.Wait()
	return c.moved.Load(), c.err
}

func (c *copier) copyLeaf(ctx context.Context, oldID int) error {
	src, err := c.engine.Open(c.p.oldPath(oldID), c.p.old.Schema, backend.ReadOnly)
	if err != nil {
		return err
	}
	defer src.Close()
	cur, err := src.Scan(false)
	if err != nil {
		return err
	}
	defer cur.Close()

	batches := make(map[int][]types.Row)
	flush := func(id int) error {
		rows := batches[id]
		if len(rows) == 0 {
			return nil
		}
		if err := c.dest[id].WriteBatch(rows); err != nil {
			return err
		}
		c.moved.Add(int64(len(rows)))
		batches[id] = rows[:0]
		return nil
	}

	for n := 0; ; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if c.failed() {
				return nil
			}
		}
		row, err := cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		id, err := c.r.Route(row)
		if err != nil {
			return err
		}
		if _, ok := c.dest[id]; !ok {
			return errkind.ErrNoMatchingPartition.New(fmt.Sprintf("%v (leaf %s of %s is not being rebuilt)",
				row, c.p.new.Leaves[id].Name, c.p.old.Leaves[oldID].Name))
		}
		batches[id] = append(batches[id], row)
		if len(batches[id]) >= c.a.opts.BatchRows {
			if err := flush(id); err != nil {
				return err
			}
		}
	}
	for id := range batches {
		if err := flush(id); err != nil {
			return err
		}
	}
	return nil
}
