package source

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	logx "assetsy/pkg/logx"
)

// BreakerConfig controls the per-source failure breaker.
type BreakerConfig struct {
	Enabled bool
	// Failures is the number of consecutive extraction failures that opens the breaker.
	Failures uint32
	// Cooldown is how long extraction is skipped once open.
	Cooldown time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures == 0 {
		c.Failures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Minute
	}
	return c
}

type breakerExtractor struct {
	inner    core.Extractor
	cb       *gobreaker.CircuitBreaker
	failures atomic.Uint32
}

// WithBreaker wraps the entry's extractor with a circuit breaker.
// While open, Extract fails fast with an ExtractionError wrapping
// gobreaker.ErrOpenState. State changes are published as
// eventbus.TypeBreakerChanged.
func WithBreaker(e Entry, cfg BreakerConfig, bus eventbus.Bus, log logx.Logger) Entry {
	if !cfg.Enabled || e.Extractor == nil {
		return e
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &breakerExtractor{inner: e.Extractor}
	name := string(e.Extractor.Name())
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			b.failures.Store(c.ConsecutiveFailures)
			return c.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a source failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			failures := b.failures.Load()
			if to == gobreaker.StateClosed {
				b.failures.Store(0)
			}
			log.Warn("source breaker state changed",
				logx.String("source", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
				logx.Int64("failures", int64(failures)),
			)
			eventbus.Publish(bus, eventbus.TypeBreakerChanged, eventbus.BreakerChanged{
				Source:   name,
				From:     from.String(),
				To:       to.String(),
				Failures: failures,
				At:       time.Now(),
			})
		},
	})
	e.Extractor = b
	return e
}

func (b *breakerExtractor) Name() core.Source { return b.inner.Name() }

func (b *breakerExtractor) Extract(ctx context.Context) (core.Snapshot, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Extract(ctx)
	})
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(b.Name(), err)
	}
	snap, _ := v.(core.Snapshot)
	return snap, nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *breakerExtractor) State() string { return b.cb.State().String() }
