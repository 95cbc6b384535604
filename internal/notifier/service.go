package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	kit "assetsy/internal/transport"
	logx "assetsy/pkg/logx"
)

var ErrEmptyText = errors.New("notifier: empty text")

// Service sends one message per call, rate limited across all callers.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	markup  any
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log,
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

// WithMarkup attaches reply markup (the bot's main keyboard) to every message.
func (s *Service) WithMarkup(markup any) *Service {
	s.mu.Lock()
	s.markup = markup
	s.mu.Unlock()
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	} else {
		// Keep the bucket so a reload doesn't grant a fresh burst.
		s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
		s.limiter.SetBurst(cfg.Burst)
	}
	s.cfg = cfg
}

// Send delivers text to recipient and reports the outcome. It never panics.
func (s *Service) Send(ctx context.Context, recipient core.Subscriber, text string) (out core.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = core.Failed(recipient, fmt.Errorf("panic in send: %v", r))
		}
		s.report(out, time.Since(start))
	}()

	if strings.TrimSpace(text) == "" {
		return core.Failed(recipient, ErrEmptyText)
	}
	if s.adapter == nil {
		return core.Failed(recipient, errors.New("notifier: no adapter"))
	}

	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	markup := s.markup
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := lim.Wait(ctx); err != nil {
		return core.Failed(recipient, fmt.Errorf("rate limit: %w", err))
	}

	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Markup: markup}
	if _, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: int64(recipient)}, text, opt); err != nil {
		return core.Failed(recipient, err)
	}
	return core.Delivered(recipient)
}

func (s *Service) report(out core.Outcome, took time.Duration) {
	ev := DeliveryEvent{ChatID: int64(out.Recipient), Took: took, At: time.Now()}
	if out.OK() {
		s.log.Debug("notification delivered", logx.Int64("chat_id", int64(out.Recipient)), logx.Duration("took", took))
		eventbus.Publish(s.bus, eventbus.TypeNotifyDelivered, ev)
		return
	}
	ev.Error = out.Err.Error()
	s.log.Warn("notification failed", logx.Int64("chat_id", int64(out.Recipient)), logx.Err(out.Err))
	eventbus.Publish(s.bus, eventbus.TypeNotifyFailed, ev)
}
