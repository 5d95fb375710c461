// Package task runs the named background tasks of the device.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dice-ticker/dice-net/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Func represents a function that performs a task within a goroutine managed by the Manager.
// It should return true to continue running the task, or false to stop the goroutine.
type Func func() bool

// ScheduledFunc represents a function run by a scheduled task. It returns the delay until
// its next run; a negative delay stops the task.
type ScheduledFunc func() time.Duration

// Manager manages the lifecycle of the goroutines (tasks) of the device.
//
// The Manager uses a context.Context to manage the lifecycle of the goroutines. When the
// context is canceled, all running goroutines are signaled to stop, and Wait returns once
// all of them terminated.
//
// Tasks do not have priorities. A task that must never wait for another one only uses
// non-blocking lock acquisition on shared state and retries on its next run.
type Manager struct {
	pctx      context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    logger.Logger
	count     atomic.Int32
	tickers   *xsync.MapOf[string, *time.Ticker]
	schedules *xsync.MapOf[string, chan struct{}]
	mu        sync.RWMutex // protect ctx and cancel
	taskMu    sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a new Manager with the given context as the parent context and logger.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{
		pctx:      ctx,
		logger:    l,
		tickers:   xsync.NewMapOf[string, *time.Ticker](),
		schedules: xsync.NewMapOf[string, chan struct{}](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine with the given name and task function.
//
// The taskFunc should return true to continue running, or false to stop the goroutine.
func (mgr *Manager) Start(name string, taskFunc Func) error {
	mgr.logger.Debug("start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartInterval starts a new goroutine that executes the given task function at the specified interval.
// If runNow is true, the task function is executed immediately before starting the interval.
// The function returns a *time.Ticker that can be used to stop the interval.
func (mgr *Manager) StartInterval(name string, taskFunc Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "run_now", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)

	// store ticker before starting goroutine
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow {
		if !mgr.callWithRecoverBool(name, taskFunc) {
			cleanup()
			mgr.logger.Debug("interval task terminated by first run", "name", name)

			return ticker, nil
		}
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return nil, err
	}

	starter.startTask(func() {
		defer cleanup()

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecoverBool(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// StartScheduled starts a new goroutine that runs taskFunc after delay, and then again
// after every delay it returns, until it returns a negative delay.
func (mgr *Manager) StartScheduled(name string, taskFunc ScheduledFunc, delay time.Duration) error {
	mgr.logger.Debug("start scheduled task", "name", name, "delay", delay)

	if delay < 0 {
		return fmt.Errorf("invalid delay: %v", delay)
	}

	stop := make(chan struct{})
	if _, loaded := mgr.schedules.LoadOrStore(name, stop); loaded {
		return fmt.Errorf("scheduled task %s already exists", name)
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		mgr.schedules.Delete(name)
		return err
	}

	starter.startTask(func() {
		defer mgr.schedules.Delete(name)

		next := delay
		for {
			timer := getTimer(next)
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				putTimer(timer)
				return
			case <-stop:
				putTimer(timer)
				return
			case <-timer.C:
				putTimer(timer)
			}

			next = mgr.callWithRecoverDelay(name, taskFunc, next)
			if next < 0 {
				return
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		mgr.schedules.Delete(name)
		return err
	}

	return nil
}

// callWithRecoverBool calls a function that returns bool with panic protection
func (mgr *Manager) callWithRecoverBool(name string, fn func() bool) bool {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}

// callWithRecoverDelay keeps the previous delay when fn panics.
func (mgr *Manager) callWithRecoverDelay(name string, fn ScheduledFunc, prev time.Duration) (next time.Duration) {
	next = prev
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	return fn()
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_ string, ticker *time.Ticker) bool {
		ticker.Stop()
		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// StopInterval stops the interval or scheduled task with the given name.
func (mgr *Manager) StopInterval(name string) error {
	if ticker, ok := mgr.tickers.LoadAndDelete(name); ok {
		ticker.Stop()
		return nil
	}

	if stop, ok := mgr.schedules.LoadAndDelete(name); ok {
		close(stop)
		return nil
	}

	return fmt.Errorf("task %s not found", name)
}

// Wait waits for all goroutines to terminate. The Manager can start tasks again afterwards.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	// recreate context with lock
	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

// taskStarter encapsulates common startup logic
type taskStarter struct {
	mgr     *Manager
	name    string
	started chan error
}

func (mgr *Manager) newTaskStarter(name string) (*taskStarter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("task manager already stopped")
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

// startTask runs the common startup sequence for all tasks
func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		s.mgr.count.Add(1)
		s.started <- nil

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

// waitForStart waits for the task to start with timeout
func (s *taskStarter) waitForStart() error {
	ctx := s.mgr.getContext()

	timer := getTimer(5 * time.Second)
	defer putTimer(timer)

	select {
	case err := <-s.started:
		if err != nil {
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}

		return nil

	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("context cancelled while starting %s", s.name)
	}
}

// runTaskLoop runs a task function in a loop with context cancellation
func (mgr *Manager) runTaskLoop(name string, taskFunc func() bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
