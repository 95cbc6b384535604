package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "assetsy/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "scheduler")),
		jobs: map[string]*jobDef{},
	}
}

// Apply swaps the config; a timezone change restarts cron with every job
// re-registered.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && changed {
		// Runs of the old cron finish on their own and are tracked by inflight.
		s.c.Stop()
		s.startLocked()
		s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	}
}

// Add registers job under name, replacing any job with the same name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	sc, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, spec: sc, timeout: timeout, run: job}
	s.jobs[name] = d
	s.order = append(s.order, name)
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("job registered", logx.String("name", name), logx.String("spec", sc.String()), logx.Duration("timeout", timeout))
	return nil
}

// Remove unregisters name and reports whether it existed. A run in progress
// is not interrupted.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Debug("job removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.jobs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// RunNow runs name synchronously on the caller's goroutine, bounded by ctx and
// the job timeout. It returns ErrOverlapSkip if the job is already running
// and ErrStopped once Stop has been called.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.execute(ctx, d, "manual")
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base = context.WithoutCancel(ctx)
	s.stopped = false
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.loc = s.location()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, name := range s.order {
		s.registerLocked(s.jobs[name])
	}
	s.c.Start()
}

// Stop halts triggering and waits for in-flight runs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out with jobs still running", logx.Err(ctx.Err()))
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Entries lists registered jobs in registration order.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		d := s.jobs[name]
		e := Entry{
			Name:    d.name,
			Spec:    d.spec.String(),
			Timeout: d.timeout,
			Running: d.running.Load(),
			Runs:    d.runs.Load(),
			Skipped: d.skips.Load(),
		}
		if p := d.lastErr.Load(); p != nil {
			e.LastError = *p
		}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) registerLocked(d *jobDef) {
	job := cron.FuncJob(func() {
		_ = s.execute(s.base, d, "tick")
	})
	d.entryID = s.c.Schedule(d.spec.next, job)
}

func (s *Service) execute(ctx context.Context, d *jobDef, trigger string) (err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug("run refused, service stopped", logx.String("name", d.name), logx.String("trigger", trigger))
		return ErrStopped
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	if !d.running.CompareAndSwap(false, true) {
		s.inflight.Done()
		d.skips.Add(1)
		s.log.Debug("run skipped, previous still running", logx.String("name", d.name), logx.String("trigger", trigger))
		return ErrOverlapSkip
	}
	defer func() {
		d.running.Store(false)
		s.inflight.Done()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		d.runs.Add(1)
		if err != nil {
			msg := err.Error()
			d.lastErr.Store(&msg)
			s.log.Warn("job failed", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		d.lastErr.Store(nil)
		s.log.Debug("job done", logx.String("name", d.name), logx.String("trigger", trigger), logx.Duration("took", time.Since(start)))
	}()
	return d.run(ctx)
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
