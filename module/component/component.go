package component

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/timechain/timekeeper/module"
	"github.com/timechain/timekeeper/module/irrecoverable"
	"github.com/timechain/timekeeper/module/util"
)

// Component represents a component which can be started and stopped, and
// exposes channels that close when startup and shutdown have completed.
// Once Start has been called, the channel returned by Done must close
// eventually, whether that be because of a graceful shutdown or an
// irrecoverable error.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

// ReadyFunc is called within a ComponentWorker function to indicate that the
// worker is ready. The ComponentManager's Ready channel is closed when all
// workers are ready.
type ReadyFunc func()

// ComponentWorker represents a worker routine of a component. It takes a
// SignalerContext which can be used to throw any irrecoverable errors it
// encounters, as well as a ReadyFunc which must be called to signal that it
// is ready. The ComponentManager waits until all workers have signaled that
// they are ready before closing its own Ready channel.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder provides a mechanism for building a
// ComponentManager.
type ComponentManagerBuilder interface {
	// AddWorker adds a worker routine for the ComponentManager.
	AddWorker(ComponentWorker) ComponentManagerBuilder

	// Build builds and returns a new ComponentManager instance.
	Build() *ComponentManager
}

type componentManagerBuilderImpl struct {
	workers []ComponentWorker
}

// NewComponentManagerBuilder returns a new ComponentManagerBuilder.
func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilderImpl{}
}

// AddWorker adds a ComponentWorker closure to the ComponentManagerBuilder.
// All worker functions will be run in parallel when the ComponentManager is
// started. AddWorker is not concurrency-safe.
func (c *componentManagerBuilderImpl) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	c.workers = append(c.workers, worker)
	return c
}

// Build returns a new ComponentManager instance with the configured workers.
func (c *componentManagerBuilderImpl) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		workersDone:    make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        c.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager is used to manage the worker routines of a Component, and
// implements all of the methods required by the Component interface,
// abstracting them away from individual implementations.
//
// Shutdown is signalled by cancelling the irrecoverable.SignalerContext
// passed to Start(). This context is also used by workers to communicate
// irrecoverable errors. All irrecoverable errors are considered fatal and
// are propagated to the caller of Start() via the context's Throw method.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	workersDone    chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start initiates the ComponentManager by launching all worker routines.
// Start must only be called once; it panics on repeated calls.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	go c.waitForShutdownSignal(ctx.Done())

	// launch goroutine to propagate irrecoverable errors
	go func() {
		// Closing the done channel here guarantees that any irrecoverable
		// errors encountered will be propagated to the parent first.
		defer func() {
			<-c.workersDone
			close(c.done)
		}()

		// wait until all workers have finished or an irrecoverable error is
		// encountered
		if err := util.WaitError(errChan, c.workersDone); err != nil {
			cancel() // shutdown all workers

			// a failure in a worker routine is considered irrecoverable;
			// propagate directly to the parent
			parent.Throw(err)
		}
	}()

	var workersReady sync.WaitGroup
	var workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))

	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var readyOnce sync.Once
			worker(signalerCtx, func() {
				readyOnce.Do(func() {
					workersReady.Done()
				})
			})
		}()
	}

	go c.waitForReady(&workersReady)
	go c.waitForDone(&workersDone)
}

func (c *ComponentManager) waitForShutdownSignal(shutdownSignal <-chan struct{}) {
	<-shutdownSignal
	close(c.shutdownSignal)
}

func (c *ComponentManager) waitForReady(workersReady *sync.WaitGroup) {
	workersReady.Wait()
	close(c.ready)
}

func (c *ComponentManager) waitForDone(workersDone *sync.WaitGroup) {
	workersDone.Wait()
	close(c.workersDone)
}

// Ready returns a channel which is closed once all the worker routines have
// been launched and are ready. If any worker routine exits before it
// indicates that it is ready, the channel returned from Ready will never
// close.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done returns a channel which is closed once the ComponentManager has shut
// down, after all worker routines have returned (either gracefully or by
// throwing an error).
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal returns a channel that is closed when shutdown has
// commenced, either because the ComponentManager's context was cancelled or
// because a worker routine encountered an irrecoverable error.
// If called before Start, a nil channel is returned.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
