package memory

import (
	"context"
	"sync"

	"github.com/nimburion/docservice/pkg/table"
)

// cursor buffers deltas without bound so a slow reader never blocks writers
// and never loses a delta.
type cursor struct {
	id     uint64
	s      *store
	notify chan struct{}

	mu     sync.Mutex
	queue  []table.Change
	closed bool
}

func (c *cursor) push(ch table.Change) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ch)
	c.mu.Unlock()
	c.signal()
}

func (c *cursor) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest pending delta, waiting for one if needed.
func (c *cursor) Next(ctx context.Context) (table.Change, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			ch := c.queue[0]
			c.queue[0] = table.Change{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return ch, nil
		}
		if c.closed {
			c.mu.Unlock()
			return table.Change{}, table.ErrCursorClosed
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-ctx.Done():
			return table.Change{}, ctx.Err()
		}
	}
}

// Close detaches the cursor from its table. Pending deltas are dropped.
func (c *cursor) Close() error {
	c.s.mu.Lock()
	delete(c.s.subs, c.id)
	c.s.mu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	c.signal()
	return nil
}
