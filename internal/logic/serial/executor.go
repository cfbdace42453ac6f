// Package serial runs tasks one at a time on a dedicated goroutine.
//
// Every camera instance owns one Executor. Hardware callbacks arrive on
// backend goroutines and are re-posted here before they touch shared state.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/camsession/internal/debug"
)

// ErrClosed is returned when posting to a closed executor.
var ErrClosed = errors.New("serial executor closed")

// PanicError wraps a value recovered from a task.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Executor is a single-goroutine FIFO task runner. Post never blocks, so
// backend goroutines can hand work over without waiting on the executor.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	done    chan struct{}
	onPanic func(error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithPanicHandler is called (on the executor goroutine) with a *PanicError
// whenever a task panics.
func WithPanicHandler(fn func(error)) Option {
	return func(e *Executor) { e.onPanic = fn }
}

// New starts an executor.
func New(opts ...Option) *Executor {
	e := &Executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	for _, o := range opts {
		o(e)
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(task)
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r}
			debug.Error(err)
			if e.onPanic != nil {
				e.onPanic(err)
			}
		}
	}()
	task()
}

// Post enqueues fn. It returns ErrClosed after Close.
func (e *Executor) Post(fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return nil
}

// Call runs fn on the executor and waits for its result. It must not be
// called from a task already running on this executor.
func (e *Executor) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	err := e.Post(func() {
		var taskErr error
		defer func() {
			if r := recover(); r != nil {
				result <- &PanicError{Value: r}
				panic(r)
			}
			result <- taskErr
		}()
		taskErr = fn()
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued tasks and stops the goroutine. Safe to call twice.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	<-e.done
}
