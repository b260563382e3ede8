package meander_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meanderkit/meander"
)

// waitForCancel runs until its context is cancelled, the well-behaved
// worker shape.
func waitForCancel(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type countingCloser struct {
	closed atomic.Int32
	err    error
}

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return c.err
}

var _ io.Closer = &countingCloser{}

func TestWorkerControllerStartStop(t *testing.T) {
	var started atomic.Int32
	controller := meander.NewWorkerController()

	worker := func(ctx context.Context) error {
		started.Add(1)
		return waitForCancel(ctx)
	}

	if err := controller.Start(context.Background(), worker, worker, worker); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for started.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("workers never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := controller.Stop(); err != nil {
		t.Fatalf("expected cancellation to be a clean stop, got %v", err)
	}
}

func TestWorkerControllerDoubleStart(t *testing.T) {
	controller := meander.NewWorkerController()

	if err := controller.Start(context.Background(), waitForCancel); err != nil {
		t.Fatal(err)
	}
	defer controller.Stop()

	if err := controller.Start(context.Background(), waitForCancel); !errors.Is(err, meander.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestWorkerControllerStopIdempotent(t *testing.T) {
	controller := meander.NewWorkerController()

	if err := controller.Stop(); err != nil {
		t.Fatalf("stopping a stopped controller must be a no-op, got %v", err)
	}

	if err := controller.Start(context.Background(), waitForCancel); err != nil {
		t.Fatal(err)
	}
	if err := controller.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := controller.Stop(); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}

func TestWorkerControllerRestartAfterStop(t *testing.T) {
	controller := meander.NewWorkerController()

	if err := controller.Start(context.Background(), waitForCancel); err != nil {
		t.Fatal(err)
	}
	if err := controller.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := controller.Start(context.Background(), waitForCancel); err != nil {
		t.Fatalf("expected restart after stop to succeed, got %v", err)
	}
	if err := controller.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerControllerSurfacesWorkerError(t *testing.T) {
	workerErr := errors.New("worker crashed")
	controller := meander.NewWorkerController()

	err := controller.Start(context.Background(),
		waitForCancel,
		func(ctx context.Context) error { return workerErr },
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := controller.Stop(); !errors.Is(err, workerErr) {
		t.Fatalf("expected the worker error out of Stop, got %v", err)
	}
}

func TestWorkerControllerReleasesResources(t *testing.T) {
	closer := &countingCloser{}
	controller := meander.NewWorkerController()

	err := controller.StartWithResources(context.Background(),
		[]io.Closer{closer}, waitForCancel)
	if err != nil {
		t.Fatal(err)
	}

	if closer.closed.Load() != 0 {
		t.Fatal("resources must stay open while workers run")
	}
	if err := controller.Stop(); err != nil {
		t.Fatal(err)
	}
	if closer.closed.Load() != 1 {
		t.Errorf("expected exactly one close, got %d", closer.closed.Load())
	}
}

func TestWorkerControllerReportsCloserError(t *testing.T) {
	closeErr := errors.New("release failed")
	closer := &countingCloser{err: closeErr}
	controller := meander.NewWorkerController()

	err := controller.StartWithResources(context.Background(),
		[]io.Closer{closer}, waitForCancel)
	if err != nil {
		t.Fatal(err)
	}

	if err := controller.Stop(); !errors.Is(err, closeErr) {
		t.Fatalf("expected the closer error out of Stop, got %v", err)
	}
}
