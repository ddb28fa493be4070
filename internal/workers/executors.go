// Package workers provides the executor set shared by the control point
// components: a queue of user-facing callbacks run by a few dedicated
// goroutines, and a semaphore bounding concurrent outbound I/O.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/muurk/upnpcp/internal/logging"
)

// ErrTerminated is returned by Go after Terminate.
var ErrTerminated = errors.New("executors terminated")

// Config sizes the executor set. Zero values select the defaults.
type Config struct {
	Callbacks int // callback goroutines
	IO        int // concurrent I/O tasks
	QueueSize int // pending callbacks before Callback blocks
}

// Executors runs callbacks off the network goroutines and bounds I/O.
type Executors struct {
	cfg Config
	log *zap.Logger

	callbacks chan func()
	io        *semaphore.Weighted

	mu         sync.RWMutex
	terminated bool
	started    bool

	ctx    context.Context
	cancel context.CancelFunc

	cbWG sync.WaitGroup
	ioWG sync.WaitGroup
}

// New creates an executor set. Start launches the callback goroutines.
func New(cfg Config) *Executors {
	if cfg.Callbacks <= 0 {
		cfg.Callbacks = 2
	}
	if cfg.IO <= 0 {
		cfg.IO = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executors{
		cfg:       cfg,
		log:       logging.Named("workers"),
		callbacks: make(chan func(), cfg.QueueSize),
		io:        semaphore.NewWeighted(int64(cfg.IO)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the callback goroutines.
func (e *Executors) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.terminated {
		return
	}
	e.started = true
	for i := 0; i < e.cfg.Callbacks; i++ {
		e.cbWG.Add(1)
		go e.runCallbacks()
	}
}

func (e *Executors) runCallbacks() {
	defer e.cbWG.Done()
	for fn := range e.callbacks {
		e.safely("callback", fn)
	}
}

func (e *Executors) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Recovered panic in "+kind, zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Callback queues fn for a callback goroutine. After Terminate the
// callback is dropped with a warning.
func (e *Executors) Callback(fn func()) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.terminated {
		e.log.Warn("Dropping callback after terminate")
		return
	}
	e.callbacks <- fn
}

// Go runs fn on a new goroutine once an I/O slot is free. It blocks while
// all slots are busy and fails when ctx ends or the set is terminated.
// fn receives a context cancelled by Terminate.
func (e *Executors) Go(ctx context.Context, fn func(ctx context.Context)) error {
	e.mu.RLock()
	terminated := e.terminated
	e.mu.RUnlock()
	if terminated {
		return ErrTerminated
	}

	if err := e.io.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for I/O slot: %w", err)
	}

	e.mu.RLock()
	if e.terminated {
		e.mu.RUnlock()
		e.io.Release(1)
		return ErrTerminated
	}
	e.ioWG.Add(1)
	e.mu.RUnlock()

	go func() {
		defer e.ioWG.Done()
		defer e.io.Release(1)
		e.safely("I/O task", func() { fn(e.ctx) })
	}()
	return nil
}

// TryGo is Go without waiting: it reports false when no slot is free.
func (e *Executors) TryGo(fn func(ctx context.Context)) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.terminated || !e.io.TryAcquire(1) {
		return false
	}
	e.ioWG.Add(1)
	go func() {
		defer e.ioWG.Done()
		defer e.io.Release(1)
		e.safely("I/O task", func() { fn(e.ctx) })
	}()
	return true
}

// Terminate stops accepting work, cancels running I/O tasks' context and
// lets queued callbacks drain. It does not wait.
func (e *Executors) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return
	}
	e.terminated = true
	e.cancel()
	close(e.callbacks)
}

// Wait blocks until queued callbacks and running I/O tasks have finished.
func (e *Executors) Wait() {
	e.ioWG.Wait()
	e.cbWG.Wait()
}
