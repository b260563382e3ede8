package meander

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// WorkerFunc is a long-running background task. Workers receive a context
// derived from the one passed to Start; cancellation of that context is the
// stop signal. A worker must treat cancellation as expected, clean up, and
// return the context's error (or nil). Any other error is kept and
// surfaces from Stop.
type WorkerFunc func(ctx context.Context) error

// WorkerController starts and cancels a cohort of background workers as a
// unit, typically bound to an application's lifespan. A controller is
// either fully stopped or fully started; starting twice is an error,
// stopping is idempotent.
type WorkerController struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	errs      []error
	resources []io.Closer
	running   bool
	logger    *zap.Logger
}

// WorkerOption configures a WorkerController.
type WorkerOption func(*WorkerController)

// WithWorkerLogger sets the controller's logger. Defaults to a no-op
// logger.
func WithWorkerLogger(logger *zap.Logger) WorkerOption {
	return func(c *WorkerController) {
		c.logger = logger
	}
}

// NewWorkerController creates a stopped controller.
func NewWorkerController(opts ...WorkerOption) *WorkerController {
	c := &WorkerController{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start schedules each worker as a concurrently-running task. Shared
// context flows to every worker through ctx (values and cancellation).
// Returns ErrAlreadyStarted when the controller is already running.
func (c *WorkerController) Start(ctx context.Context, workers ...WorkerFunc) error {
	return c.StartWithResources(ctx, nil, workers...)
}

// StartWithResources is Start with scoped resources: the closers stay open
// for the workers' lifetime and are released when Stop runs.
func (c *WorkerController) StartWithResources(ctx context.Context, resources []io.Closer, workers ...WorkerFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.resources = resources
	c.errs = make([]error, len(workers))
	c.running = true

	for i, worker := range workers {
		c.wg.Add(1)
		go func(i int, worker WorkerFunc) {
			defer c.wg.Done()
			c.errs[i] = worker(workerCtx)
		}(i, worker)
	}

	return nil
}

// Stop cancels every worker, waits for them to finish, releases the scoped
// resources, and returns the first non-cancellation error any worker
// produced. Stopping an already-stopped controller returns immediately.
func (c *WorkerController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	var workerErr error
	for _, err := range c.errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		c.logger.Error("worker exited with error", zap.Error(err))
		if workerErr == nil {
			workerErr = err
		}
	}

	var closeErrs []error
	for _, resource := range c.resources {
		if err := resource.Close(); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	c.cancel = nil
	c.resources = nil
	c.errs = nil
	c.running = false

	if workerErr != nil {
		if closeErr := errors.Join(closeErrs...); closeErr != nil {
			return fmt.Errorf("%w (releasing resources also failed: %v)", workerErr, closeErr)
		}
		return workerErr
	}
	return errors.Join(closeErrs...)
}
