// Package looper provides the single owner goroutine that serializes session
// mutation, presentation calls and vendor-callback resumption.
package looper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrStopped = errors.New("looper stopped")

// Looper runs posted tasks one at a time, in posting order, on one goroutine.
// Post never blocks, so vendor callbacks may post from any goroutine,
// including the looper itself.
type Looper struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func New(logger *slog.Logger) *Looper {
	l := &Looper{
		logger: logger.With("component", "Looper"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.loop()
	return l
}

// Post enqueues fn. It returns false once the looper is stopped.
func (l *Looper) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run posts fn and waits for it to finish. It must not be called from a
// task running on the looper.
func (l *Looper) Run(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains already-posted tasks and then ends the goroutine.
func (l *Looper) Stop() {
	l.mu.Lock()
	already := l.stopped
	l.stopped = true
	l.mu.Unlock()

	if !already {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	<-l.done
}

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, task := range batch {
			l.run(task)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked on owner goroutine", "panic", r)
		}
	}()
	task()
}
