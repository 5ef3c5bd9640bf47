package agent

import "sync"

// CancelToken is a hierarchical one-shot broadcast cancellation primitive:
// firing a token fires every descendant it has spawned via Child. Grounded
// on the general shape of context.WithCancel's parent/child propagation,
// composed with an AbortCh-style signal channel.
type CancelToken struct {
	mu       sync.Mutex
	done     chan struct{}
	fired    bool
	children []*CancelToken
}

// NewCancelToken returns a root token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Child returns a new token that is fired whenever its parent is fired
// (including if the parent was already fired before Child was called).
func (c *CancelToken) Child() *CancelToken {
	child := NewCancelToken()

	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		child.Fire()
		return child
	}
	c.children = append(c.children, child)
	c.mu.Unlock()

	return child
}

// Fire fires the token and every descendant. Firing twice is a no-op.
func (c *CancelToken) Fire() {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	children := c.children
	c.children = nil
	close(c.done)
	c.mu.Unlock()

	for _, child := range children {
		child.Fire()
	}
}

// Done returns a channel closed when the token fires.
func (c *CancelToken) Done() <-chan struct{} {
	return c.done
}

// Fired reports whether the token has already fired.
func (c *CancelToken) Fired() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
