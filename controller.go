package relpipe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// ErrControllerClosed is returned when a run is submitted after Shutdown.
var ErrControllerClosed = errors.New("controller is closed")

// Controller enforces the concurrency policy: at most one running
// PipelineRun per group key at any instant, last-submitted-wins. The group
// registry is the only cross-run shared state and every write to it goes
// through the controller's mutex.
type Controller struct {
	mu     deadlock.Mutex
	active map[string]*PipelineRun
	closed bool

	sched  *Scheduler
	logger Logger
	grace  time.Duration
	// runHook is invoked after a run reaches a terminal status, e.g. to
	// archive it.
	runHook func(*PipelineRun)

	wg sync.WaitGroup
}

// WithGracePeriod bounds how long Submit waits for a superseded run to
// acknowledge cancellation before the new run proceeds anyway.
func WithGracePeriod(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.grace = d
	}
}

// WithControllerLogger sets the logger handed to scheduled runs.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRunHook registers a function called once per run after it reaches a
// terminal status. Used to archive finished runs.
func WithRunHook(hook func(*PipelineRun)) ControllerOption {
	return func(c *Controller) {
		c.runHook = hook
	}
}

// NewController creates a controller that starts submitted runs on the
// given scheduler.
func NewController(scheduler *Scheduler, opts ...ControllerOption) *Controller {
	c := &Controller{
		active: make(map[string]*PipelineRun),
		sched:  scheduler,
		logger: NewDefaultLogger(),
		grace:  DefaultGracePeriod,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit registers the run as the active run for its concurrency group and
// starts it. If another run is active for the same group it is cancelled
// first: cancellation is cooperative, so Submit waits up to the grace period
// for the superseded run to wind down, then proceeds regardless. Runs in
// other groups are unaffected.
func (c *Controller) Submit(ctx context.Context, run *PipelineRun) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	prev := c.active[run.GroupKey]
	c.active[run.GroupKey] = run
	c.mu.Unlock()

	if prev != nil {
		c.logger.Info("Superseding run %s in group %s with run %s", prev.ID, run.GroupKey, run.ID)
		prev.Cancel()

		timer := time.NewTimer(c.grace)
		select {
		case <-prev.Done():
			timer.Stop()
		case <-timer.C:
			c.logger.Warn("Run %s did not stop within grace period %s; proceeding", prev.ID, c.grace)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run.bindCancel(cancel)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		_ = c.sched.Execute(runCtx, run, c.logger)
		c.retire(run)
	}()

	return nil
}

// retire removes a finished run from the registry if it is still the active
// one for its group, and fires the run hook.
func (c *Controller) retire(run *PipelineRun) {
	c.mu.Lock()
	if c.active[run.GroupKey] == run {
		delete(c.active, run.GroupKey)
	}
	c.mu.Unlock()

	if c.runHook != nil {
		c.runHook(run)
	}
}

// ActiveRun returns the active run for a group key, if any.
func (c *Controller) ActiveRun(groupKey string) (*PipelineRun, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.active[groupKey]
	return run, ok
}

// ActiveCount returns the number of groups with an active run.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown cancels every active run, refuses further submissions, and waits
// for all started runs to finish.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	runs := make([]*PipelineRun, 0, len(c.active))
	for _, run := range c.active {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	for _, run := range runs {
		run.Cancel()
	}
	c.wg.Wait()
}
