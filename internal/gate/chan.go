package gate

import (
	"context"
	"sync"
)

// ChanSource is an in-process decision source. Used by tests and by
// single-binary deployments where the operator answers on the same process.
type ChanSource struct {
	mu      sync.Mutex
	waiters map[string]chan Decision
}

// NewChanSource creates an empty in-process source.
func NewChanSource() *ChanSource {
	return &ChanSource{waiters: make(map[string]chan Decision)}
}

func (c *ChanSource) channel(threadID string) chan Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.waiters[threadID]
	if !ok {
		// Buffered so Submit never blocks when the decision lands before
		// the engine starts waiting.
		ch = make(chan Decision, 1)
		c.waiters[threadID] = ch
	}
	return ch
}

// Submit records the operator's decision for a thread.
func (c *ChanSource) Submit(threadID string, d Decision) {
	select {
	case c.channel(threadID) <- d:
	default:
		// A second submission for the same suspension is dropped; the
		// first decision stands.
	}
}

// Await blocks until a decision is submitted or the context ends.
func (c *ChanSource) Await(ctx context.Context, threadID string) (Decision, error) {
	ch := c.channel(threadID)
	select {
	case d := <-ch:
		c.mu.Lock()
		delete(c.waiters, threadID)
		c.mu.Unlock()
		return d, nil
	case <-ctx.Done():
		return DecisionDeny, ctx.Err()
	}
}
