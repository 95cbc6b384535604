package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	"assetsy/internal/source"
	"assetsy/internal/storage"
	logx "assetsy/pkg/logx"
	"assetsy/pkg/tgui"
)

// Status is the per-source result of one run.
type Status string

const (
	StatusUnchanged     Status = "unchanged"
	StatusChanged       Status = "changed"
	StatusExtractFailed Status = "extract_failed"
	StatusStoreFailed   Status = "store_failed"
)

// Sender delivers one message. Implementations never return an error;
// failures come back in the Outcome.
type Sender interface {
	Send(ctx context.Context, recipient core.Subscriber, text string) core.Outcome
}

// Config tunes a run. Zero values take defaults.
type Config struct {
	ExtractTimeout    time.Duration
	SendTimeout       time.Duration
	FanoutConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 2 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.FanoutConcurrency <= 0 {
		c.FanoutConcurrency = 16
	}
	return c
}

type Deps struct {
	Registry *source.Registry
	Store    storage.Store
	Sender   Sender
	Bus      eventbus.Bus
	Log      logx.Logger
}

// SourceReport describes what happened to one source.
type SourceReport struct {
	Source    core.Source `json:"source"`
	Status    Status      `json:"status"`
	Delivered int         `json:"delivered"`
	Failed    int         `json:"failed"`
	Err       error       `json:"-"`
}

// Report summarizes one run.
type Report struct {
	RunID   string         `json:"run_id"`
	Started time.Time      `json:"started"`
	Took    time.Duration  `json:"took"`
	Sources []SourceReport `json:"sources"`
}

func (r Report) count(s Status) int {
	n := 0
	for _, sr := range r.Sources {
		if sr.Status == s {
			n++
		}
	}
	return n
}

func (r Report) Changed() int { return r.count(StatusChanged) }

func (r Report) Failed() int { return r.count(StatusExtractFailed) + r.count(StatusStoreFailed) }

// Pipeline detects snapshot changes per source and fans out notifications.
// It keeps no state between runs.
type Pipeline struct {
	deps Deps
	cfg  atomic.Pointer[Config]
	log  logx.Logger
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Registry == nil || deps.Store == nil || deps.Sender == nil {
		return nil, errors.New("pipeline: registry, store and sender are required")
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{deps: deps, log: log.With(logx.String("comp", "pipeline"))}
	p.Apply(cfg)
	return p, nil
}

// Apply swaps timeouts and concurrency for subsequent runs.
func (p *Pipeline) Apply(cfg Config) {
	c := cfg.withDefaults()
	p.cfg.Store(&c)
}

func (p *Pipeline) config() Config { return *p.cfg.Load() }

// Run executes one pass over every registered source. The returned error is
// non-nil only when the whole run was aborted (store unreachable or ctx done).
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	cfg := p.config()
	rep := Report{RunID: uuid.NewString(), Started: time.Now()}
	log := p.log.With(logx.String("run_id", rep.RunID))

	finish := func(result string, err error) (Report, error) {
		rep.Took = time.Since(rep.Started)
		recordRun(result, rep.Took)
		eventbus.Publish(p.deps.Bus, eventbus.TypeRunFinished, eventbus.RunFinished{
			RunID:   rep.RunID,
			Took:    rep.Took,
			Changed: rep.Changed(),
			Failed:  rep.Failed(),
			Aborted: err != nil,
		})
		if err != nil {
			log.Warn("pipeline run aborted", logx.Err(err), logx.Duration("took", rep.Took))
		} else {
			log.Info("pipeline run finished",
				logx.Int("changed", rep.Changed()),
				logx.Int("failed", rep.Failed()),
				logx.Duration("took", rep.Took),
			)
		}
		return rep, err
	}

	if err := p.deps.Store.Ping(ctx); err != nil {
		return finish("aborted", fmt.Errorf("store unreachable: %w", err))
	}

	for _, e := range p.deps.Registry.All() {
		if err := ctx.Err(); err != nil {
			return finish("canceled", err)
		}
		rep.Sources = append(rep.Sources, p.process(ctx, log, cfg, rep.RunID, e))
	}
	return finish("ok", nil)
}

func (p *Pipeline) process(ctx context.Context, log logx.Logger, cfg Config, runID string, e source.Entry) SourceReport {
	src := e.Name()
	log = log.With(logx.String("source", string(src)))
	sr := SourceReport{Source: src}

	storeFailed := func(op string, err error) SourceReport {
		storeFailures.WithLabelValues(string(src), op).Inc()
		log.Error("store failure, source skipped", logx.String("op", op), logx.Err(err))
		eventbus.Publish(p.deps.Bus, eventbus.TypeSourceFailed, eventbus.SourceFailed{
			RunID: runID, Source: string(src), Stage: "store", Error: err.Error(),
		})
		sr.Status, sr.Err = StatusStoreFailed, err
		return sr
	}

	previous, err := p.deps.Store.GetSnapshot(ctx, src)
	if err != nil {
		return storeFailed("get", err)
	}

	fresh, err := p.extract(ctx, cfg, e)
	if err != nil {
		log.Warn("extraction failed", logx.Err(err))
		eventbus.Publish(p.deps.Bus, eventbus.TypeSourceFailed, eventbus.SourceFailed{
			RunID: runID, Source: string(src), Stage: "extract", Error: err.Error(),
		})
		sr.Status, sr.Err = StatusExtractFailed, err
		return sr
	}

	if fresh.Equal(previous) {
		log.Debug("snapshot unchanged", logx.Uint64("hash", fresh.Hash()))
		sr.Status = StatusUnchanged
		return sr
	}

	// Resolve recipients before persisting: if this fails the change is
	// detected again on the next run.
	recipients, err := p.deps.Store.SubscribersOf(ctx, src)
	if err != nil {
		return storeFailed("subscribers", err)
	}
	if err := p.deps.Store.PutSnapshot(ctx, src, fresh); err != nil {
		return storeFailed("put", err)
	}
	changesTotal.WithLabelValues(string(src)).Inc()

	text := render(log, e, fresh)
	sr.Status = StatusChanged
	sr.Delivered, sr.Failed = p.fanout(ctx, log, cfg, recipients, text)
	recordDeliveries(src, sr.Delivered, sr.Failed)

	log.Info("snapshot changed",
		logx.Bool("first", !previous.Present()),
		logx.Int("recipients", len(recipients)),
		logx.Int("delivered", sr.Delivered),
		logx.Int("failed", sr.Failed),
	)
	eventbus.Publish(p.deps.Bus, eventbus.TypeSourceChanged, eventbus.SourceChanged{
		RunID: runID, Source: string(src), Delivered: sr.Delivered, Failed: sr.Failed,
	})
	return sr
}

func (p *Pipeline) extract(ctx context.Context, cfg Config, e source.Entry) (snap core.Snapshot, err error) {
	src := e.Name()
	ctx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			snap, err = core.NoPriorData, fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = core.NewExtractionError(src, err)
		} else if !snap.Present() {
			err = core.NewExtractionError(src, errors.New("extractor returned no snapshot"))
		}
		recordExtract(src, time.Since(start), err)
	}()
	return e.Extractor.Extract(ctx)
}

// render never fails: a panic or empty text falls back to a generic line.
func render(log logx.Logger, e source.Entry, snap core.Snapshot) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("renderer panicked", logx.Any("panic", r))
			text = ""
		}
		if strings.TrimSpace(text) == "" {
			text = fallbackText(e)
		}
	}()
	return e.Renderer.Render(snap)
}

func fallbackText(e source.Entry) string {
	return "🦭 " + tgui.B(e.Title).String() + ": new free assets are available."
}
