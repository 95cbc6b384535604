// Package supervisor runs named goroutines under one cancelable context,
// turning panics into errors and optionally restarting long-lived loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "assetsy/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	// cancel the shared context on the first failure
	fatal bool

	mu    sync.Mutex
	first error

	wg       sync.WaitGroup
	waitOnce sync.Once
	idle     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels Context when any goroutine fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.fatal = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, idle: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels Context. It does not wait; use Wait for that.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first recorded failure, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	if s.first == nil {
		s.first = err
	}
	s.mu.Unlock()
}

// Go runs fn in its own goroutine. A returned error (other than
// context.Canceled) or a panic is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))
		err := call(s.ctx, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("goroutine failed", logx.String("name", name), logx.Err(err))
			s.record(fmt.Errorf("%s: %w", name, err))
			if s.fatal {
				s.cancel()
			}
			return
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for loops that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

type RestartOption func(*policy)

type policy struct {
	min, max    time.Duration
	limit       int // restarts allowed after the first run; 0 is unlimited
	cleanStops  bool
	reportFirst bool
}

// WithRestartBackoff sets the first and the largest pause between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *policy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

func WithMaxRestarts(n int) RestartOption { return func(p *policy) { p.limit = n } }

// WithPublishFirstError makes the first failure visible through Err while
// the loop keeps restarting. Context is never canceled by it.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *policy) { p.reportFirst = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure and restarts it.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *policy) { p.cleanStops = enabled }
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error { fn(ctx); return nil }, opts...)
}

// GoRestart keeps fn running until Context is canceled, pausing with jittered
// exponential backoff between failed runs.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := policy{min: 250 * time.Millisecond, max: 30 * time.Second, cleanStops: true}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)
	s.Go0(name, func(ctx context.Context) { s.restartLoop(ctx, name, fn, p) })
}

// a run that lasted this long resets the backoff
const healthyRun = 30 * time.Second

func (s *Supervisor) restartLoop(ctx context.Context, name string, fn func(context.Context) error, p policy) {
	pause := p.min
	for n := 1; ctx.Err() == nil; n++ {
		began := time.Now()
		err := call(ctx, fn)
		switch {
		case ctx.Err() != nil, errors.Is(err, context.Canceled):
			return
		case err == nil && p.cleanStops:
			return
		case err == nil:
			err = errors.New("exited")
		}
		if p.reportFirst {
			s.record(fmt.Errorf("%s: %w", name, err))
		}
		if p.limit > 0 && n > p.limit {
			s.log.Error("giving up on goroutine", logx.String("name", name), logx.Int("restarts", n-1), logx.Err(err))
			return
		}
		if time.Since(began) >= healthyRun {
			pause = p.min
		}
		wait := pause + jitter(pause)
		s.log.Warn("restarting goroutine", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
		if !sleep(ctx, wait) {
			return
		}
		pause = min(pause*2, p.max)
	}
}

func jitter(d time.Duration) time.Duration {
	if d < 5 {
		return 0
	}
	return rand.N(d / 5)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every goroutine returned, then reports Err. It gives up
// with ctx.Err() when ctx ends first.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
