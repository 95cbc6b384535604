package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	logx "assetsy/pkg/logx"
)

type fakeExtractor struct {
	name  core.Source
	calls atomic.Int32
	err   error
}

func (f *fakeExtractor) Name() core.Source { return f.name }

func (f *fakeExtractor) Extract(ctx context.Context) (core.Snapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return core.NoPriorData, f.err
	}
	return core.MustSnapshot(map[string]any{"ok": true}), nil
}

var plain = core.RendererFunc(func(core.Snapshot) string { return "x" })

func TestNewRegistry(t *testing.T) {
	t.Parallel()
	a := &fakeExtractor{name: "alpha"}
	b := &fakeExtractor{name: "beta"}

	r, err := NewRegistry(Entry{Extractor: a, Renderer: plain, Title: "Alpha"}, Entry{Extractor: b, Renderer: plain})
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("Names() = %v", names)
	}
	if e, ok := r.Lookup("beta"); !ok || e.Title != "beta" {
		t.Fatalf("Lookup(beta) = %+v, %v", e, ok)
	}
	if _, ok := r.Lookup("gamma"); ok {
		t.Fatal("Lookup(gamma) should miss")
	}

	cases := []struct {
		name    string
		entries []Entry
		want    error
	}{
		{"duplicate", []Entry{{Extractor: a, Renderer: plain}, {Extractor: &fakeExtractor{name: "alpha"}, Renderer: plain}}, ErrDuplicateSource},
		{"empty name", []Entry{{Extractor: &fakeExtractor{name: " "}, Renderer: plain}}, ErrInvalidSource},
		{"no renderer", []Entry{{Extractor: a}}, ErrInvalidSource},
		{"no extractor", []Entry{{Renderer: plain}}, ErrInvalidSource},
	}
	for _, tc := range cases {
		if _, err := NewRegistry(tc.entries...); !errors.Is(err, tc.want) {
			t.Fatalf("%s: NewRegistry() = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestWithBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	inner := &fakeExtractor{name: "unity", err: errors.New("503")}
	e := WithBreaker(Entry{Extractor: inner, Renderer: plain}, BreakerConfig{Enabled: true, Failures: 2, Cooldown: time.Hour}, bus, logx.Nop())

	for i := 0; i < 2; i++ {
		_, err := e.Extractor.Extract(context.Background())
		var ee *core.ExtractionError
		if !errors.As(err, &ee) || ee.Source != "unity" {
			t.Fatalf("call %d: err = %v, want ExtractionError", i, err)
		}
	}
	_, err := e.Extractor.Extract(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("third call err = %v, want open state", err)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("inner calls = %d, want 2", got)
	}
	if got := e.Extractor.(*breakerExtractor).State(); got != "open" {
		t.Fatalf("State() = %q", got)
	}

	select {
	case ev := <-events:
		d, ok := ev.Data.(eventbus.BreakerChanged)
		if ev.Type != eventbus.TypeBreakerChanged || !ok {
			t.Fatalf("unexpected event %+v", ev)
		}
		if d.From != "closed" || d.To != "open" || d.Failures != 2 || d.Source != "unity" {
			t.Fatalf("unexpected payload %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no breaker event")
	}
}

func TestWithBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()
	inner := &fakeExtractor{name: "fab", err: context.Canceled}
	e := WithBreaker(Entry{Extractor: inner, Renderer: plain}, BreakerConfig{Enabled: true, Failures: 1}, nil, logx.Nop())
	for i := 0; i < 3; i++ {
		_, _ = e.Extractor.Extract(context.Background())
	}
	if got := inner.calls.Load(); got != 3 {
		t.Fatalf("inner calls = %d, want 3 (cancellation must not trip)", got)
	}
}

func TestWithBreakerDisabledIsPassthrough(t *testing.T) {
	t.Parallel()
	inner := &fakeExtractor{name: "fab"}
	e := WithBreaker(Entry{Extractor: inner, Renderer: plain}, BreakerConfig{}, nil, logx.Nop())
	if e.Extractor != core.Extractor(inner) {
		t.Fatal("disabled breaker should not wrap")
	}
}
