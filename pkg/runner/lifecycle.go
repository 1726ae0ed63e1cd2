package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner walks the engine through its states: New, Starting,
// Running, Draining, Stopped. Run blocks until the context ends, then
// drains in-flight work under a hard deadline so shutdown never hangs
// on a stuck provider.
type LifecycleRunner struct {
	drainer      Drainer
	hooks        Hooks
	drainTimeout time.Duration

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *LifecycleRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		drainer:      drainer,
		hooks:        hooks,
		drainTimeout: drainTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	r.state.Store(int32(StateNew))
	return r
}

// Run starts the engine and blocks until ctx is canceled or Stop is
// called, then performs the drain. A second Run is rejected.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("invalid state transition")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-r.ctx.Done()
	return r.shutdown()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) shutdown() error {
	r.stopOnce.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.drainTimeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.stopErr
}
