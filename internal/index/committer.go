package index

import (
	"sync"
	"time"

	"github.com/standardbeagle/staleguard/internal/clock"
	"github.com/standardbeagle/staleguard/internal/debug"
)

// committer debounces index commits: every write resets the timer, and the
// pending set becomes searchable once writes have been quiet for delay.
type committer struct {
	clk    clock.Clock
	delay  time.Duration
	commit func() int

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool

	onCommit func(n int)
}

func newCommitter(clk clock.Clock, delay time.Duration, commit func() int) *committer {
	return &committer{
		clk:    clk,
		delay:  delay,
		commit: commit,
	}
}

// schedule (re)starts the debounce timer. With a zero delay the commit runs inline.
func (c *committer) schedule() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.delay <= 0 {
		c.mu.Unlock()
		c.run()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clk.AfterFunc(c.delay, c.run)
	c.mu.Unlock()
	debug.LogIndex("commit scheduled in %s", c.delay)
}

// force commits now without waiting for the debounce window
func (c *committer) force() int {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.doCommit()
}

func (c *committer) run() {
	c.mu.Lock()
	c.timer = nil
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}
	c.doCommit()
}

func (c *committer) doCommit() int {
	start := time.Now()
	n := c.commit()
	if n > 0 {
		debug.LogIndex("committed %d changes in %v", n, time.Since(start))
	}

	c.mu.Lock()
	cb := c.onCommit
	c.mu.Unlock()
	if cb != nil && n > 0 {
		cb(n)
	}
	return n
}

func (c *committer) setOnCommit(cb func(n int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCommit = cb
}

// shutdown stops the timer; pending changes stay pending
func (c *committer) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
