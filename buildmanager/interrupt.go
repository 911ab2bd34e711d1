package buildmanager

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// interruptRegistry lets callers register cleanup callbacks that run once,
// synchronously, when the process receives an interrupt signal. Cleanup
// cancels a context.Context rather than calling os.Exit directly, so a
// caller already polling ctx.Done() gets the same shutdown path as a
// regular cancellation.
type interruptRegistry struct {
	mu    sync.Mutex
	hooks []func()
}

var interrupts = &interruptRegistry{}

// Register adds cb to the set of callbacks run once when an interrupt is
// received. Intended for releasing external resources (temp directories,
// locks) that a cancelled context alone cannot clean up.
func Register(cb func()) {
	interrupts.mu.Lock()
	defer interrupts.mu.Unlock()
	interrupts.hooks = append(interrupts.hooks, cb)
}

func runHooks() {
	interrupts.mu.Lock()
	defer interrupts.mu.Unlock()
	for _, cb := range interrupts.hooks {
		cb()
	}
}

// WithInterrupt returns a context derived from parent that is cancelled
// when the process receives an interrupt signal, and a stop function that
// must be called to release the underlying signal.Notify registration
// once the context is no longer needed. Every registered Register hook
// runs before the context is cancelled.
func WithInterrupt(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-c:
			runHooks()
			cancel()
		case <-done:
		}
	}()
	return ctx, func() {
		close(done)
		signal.Stop(c)
		cancel()
	}
}
