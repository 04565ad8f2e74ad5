package probe

import "sync"

// Control carries the reload and shutdown requests into the poll loop.
// Requests may come from signal handlers, the local API or a file watcher;
// the loop reads them once per iteration.
type Control struct {
	mu       sync.Mutex
	reload   bool
	shutdown bool
	wake     chan struct{}
}

// NewControl creates a Control with no pending requests.
func NewControl() *Control {
	return &Control{wake: make(chan struct{}, 1)}
}

// RequestReload asks the loop to rediscover plugins and re-register before
// the next cycle.
func (c *Control) RequestReload() {
	c.mu.Lock()
	c.reload = true
	c.mu.Unlock()
	c.notify()
}

// RequestShutdown asks the loop to exit between cycles.
func (c *Control) RequestShutdown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.notify()
}

// Wake returns a channel that receives after each request.
func (c *Control) Wake() <-chan struct{} {
	return c.wake
}

// ShutdownRequested reports whether shutdown was requested.
func (c *Control) ShutdownRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// TakeReload reports whether a reload was requested and clears the request.
func (c *Control) TakeReload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.reload
	c.reload = false
	return r
}

func (c *Control) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
