// Package loop runs a task repeatedly until it breaks or its context ends.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task run.
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. A nil err stops it cleanly.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value returned by its previous run.
type Task[T any] func(context.Context, T) (T, Next)

type config struct {
	timeout  time.Duration
	onPanic  func(recovered any) Next
	recovers bool
}

// Option configures Start.
type Option func(*config)

// WithTimeout bounds the context passed to each task run.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRecover turns a panic inside a task run into the Next returned by handler.
// The value passed to the next run is the one from before the panic.
func WithRecover(handler func(recovered any) Next) Option {
	return func(c *config) {
		c.onPanic = handler
		c.recovers = true
	}
}

// Start calls task with init, then keeps calling it with the last value it returned
// until it returns Break or ctx is done. The returned error is the one passed to Break,
// or ctx.Err() when the loop was interrupted.
func Start[T any](ctx context.Context, init T, task Task[T], options ...Option) (T, error) {
	cfg := &config{}
	for _, opt := range options {
		opt(cfg)
	}

	if err := ctx.Err(); err != nil {
		return init, err
	}

	value := init
	for {
		v, next := runOnce(ctx, cfg, value, task)
		if next.err != nil {
			return v, next.err
		}
		if next.quit {
			return v, nil
		}
		value = v

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}

func runOnce[T any](ctx context.Context, cfg *config, value T, task Task[T]) (v T, next Next) {
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	if cfg.recovers {
		defer func() {
			if r := recover(); r != nil {
				v, next = value, cfg.onPanic(r)
			}
		}()
	}
	return task(ctx, value)
}
