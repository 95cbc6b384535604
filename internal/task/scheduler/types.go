package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "assetsy/pkg/logx"
)

var (
	// ErrOverlapSkip is returned by RunNow when the job is still running.
	ErrOverlapSkip = errors.New("scheduler: previous run still in progress")
	ErrNotFound    = errors.New("scheduler: no such job")
	// ErrStopped is returned for runs requested after Stop.
	ErrStopped = errors.New("scheduler: stopped")
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Job is the unit of work a schedule triggers.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    Schedule
	timeout time.Duration
	run     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
	lastErr atomic.Pointer[string]
}

// Entry describes a registered job.
type Entry struct {
	Name      string
	Spec      string
	Timeout   time.Duration
	Running   bool
	Runs      uint64
	Skipped   uint64
	LastError string
	Next      time.Time
	Prev      time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	c        *cron.Cron
	base     context.Context
	jobs     map[string]*jobDef
	order    []string
	stopped  bool
	inflight sync.WaitGroup // guarded by mu for Add
}
