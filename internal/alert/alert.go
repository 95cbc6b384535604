// Package alert tells operators when a source keeps failing and when it
// recovers, based on breaker state changes from the event bus.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	"assetsy/internal/source"
	logx "assetsy/pkg/logx"
	"assetsy/pkg/tgui"
)

const maxErrorRunes = 300

type Config struct {
	Chats []int64
}

// Sender is satisfied by *notifier.Service.
type Sender interface {
	Send(ctx context.Context, recipient core.Subscriber, text string) core.Outcome
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	lastErr map[string]string

	sender   Sender
	registry *source.Registry
	log      logx.Logger
	timeout  time.Duration
}

func New(cfg Config, sender Sender, registry *source.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		lastErr:  map[string]string{},
		sender:   sender,
		registry: registry,
		log:      log.With(logx.String("comp", "alert")),
		timeout:  15 * time.Second,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Run consumes bus events until ctx is done.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ctx, ev)
		}
	}
}

// Handle processes one event. Only a closed breaker opening and a probing
// breaker closing produce messages.
func (s *Service) Handle(ctx context.Context, ev eventbus.Event) {
	switch data := ev.Data.(type) {
	case eventbus.SourceFailed:
		s.mu.Lock()
		s.lastErr[data.Source] = data.Error
		s.mu.Unlock()
	case eventbus.BreakerChanged:
		switch {
		case data.From == "closed" && data.To == "open":
			s.broadcast(ctx, s.openedText(data))
		case data.From == "half-open" && data.To == "closed":
			s.mu.Lock()
			delete(s.lastErr, data.Source)
			s.mu.Unlock()
			s.broadcast(ctx, fmt.Sprintf("✅ %s recovered.", s.title(data.Source)))
		}
	}
}

func (s *Service) title(src string) tgui.H {
	if e, ok := s.registry.Lookup(core.Source(src)); ok {
		return tgui.B(e.Title)
	}
	return tgui.B(src)
}

func (s *Service) openedText(data eventbus.BreakerChanged) string {
	text := fmt.Sprintf("⚠️ %s failed %d times in a row; checks are paused for a while.", s.title(data.Source), data.Failures)
	s.mu.Lock()
	last := s.lastErr[data.Source]
	s.mu.Unlock()
	if last != "" {
		text += "\n" + tgui.Code(tgui.TruncRunes(last, maxErrorRunes)).String()
	}
	return text
}

func (s *Service) broadcast(ctx context.Context, text string) {
	s.mu.Lock()
	chats := append([]int64(nil), s.cfg.Chats...)
	s.mu.Unlock()
	if len(chats) == 0 {
		s.log.Debug("no alert chats configured")
		return
	}
	for _, id := range chats {
		sctx, cancel := context.WithTimeout(ctx, s.timeout)
		out := s.sender.Send(sctx, core.Subscriber(id), text)
		cancel()
		if !out.OK() {
			s.log.Warn("alert delivery failed", logx.Int64("chat_id", id), logx.Err(out.Err))
		}
	}
}
