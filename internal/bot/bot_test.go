package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	"assetsy/internal/source"
	"assetsy/internal/storage"
	kit "assetsy/internal/transport"
	"assetsy/internal/transport/telegram/router"
	"assetsy/internal/transport/transporttest"
	logx "assetsy/pkg/logx"
)

type stubExtractor core.Source

func (s stubExtractor) Name() core.Source { return core.Source(s) }
func (s stubExtractor) Extract(context.Context) (core.Snapshot, error) {
	return core.NoPriorData, nil
}

type fixture struct {
	ad     *transporttest.Adapter
	store  storage.Store
	router *router.Router
	events <-chan eventbus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := source.NewRegistry(
		source.Entry{
			Extractor: stubExtractor("unity"),
			Title:     "Unity",
			Renderer: core.RendererFunc(func(s core.Snapshot) string {
				var d struct{ Assets []string }
				_ = s.Decode(&d)
				return "<b>Unity</b>: " + strings.Join(d.Assets, ", ")
			}),
		},
		source.Entry{
			Extractor: stubExtractor("fab"),
			Title:     "Fab",
			Renderer:  core.RendererFunc(func(core.Snapshot) string { panic("broken") }),
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	t.Cleanup(unsub)

	f := &fixture{ad: transporttest.New(), store: storage.NewMemory(), events: events}
	b := New(Deps{
		Registry: reg,
		Store:    f.store,
		Bus:      bus,
		Log:      logx.Nop(),
		Now:      func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) },
	})
	f.router = router.New(logx.Nop(), f.ad, router.Options{})
	if err := f.router.SetRegistry(b.Routes()); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) message(t *testing.T, text string) {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: 7, Text: text}}
	if err := f.router.Handle(context.Background(), up); err != nil {
		t.Fatalf("Handle(%q) = %v", text, err)
	}
}

func (f *fixture) press(t *testing.T, id, data string) string {
	t.Helper()
	up := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: id, ChatID: 7, FromID: 7, Data: data}}
	if err := f.router.Handle(context.Background(), up); err != nil {
		t.Fatalf("press %q = %v", data, err)
	}
	ans, _ := f.ad.Answer(id)
	return ans
}

func (f *fixture) last(t *testing.T) transporttest.Sent {
	t.Helper()
	sent := f.ad.Sent()
	if len(sent) == 0 {
		t.Fatal("nothing sent")
	}
	return sent[len(sent)-1]
}

func buttons(t *testing.T, s transporttest.Sent) []string {
	t.Helper()
	rm, ok := s.Opt.Markup.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup = %T", s.Opt.Markup)
	}
	var out []string
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			out = append(out, b.Text+"="+b.Data)
		}
	}
	return out
}

var mainButtons = []string{
	"Get list of commands=cmd:help",
	"Show subscriptions=cmd:show_subscriptions",
	"Show available freebies=cmd:show_freebies",
}

func TestStartHelpAndText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.message(t, "/start")
	if s := f.last(t); s.Text != "Welcome! 👋\n\nChoose a command:" || s.Opt.ParseMode != tele.ModeHTML {
		t.Fatalf("start = %+v", s)
	}
	if diff := cmp.Diff(mainButtons, buttons(t, f.last(t))); diff != "" {
		t.Fatalf("keyboard (-want +got):\n%s", diff)
	}

	f.message(t, "/help")
	if got := f.last(t).Text; got != "Choose a command:" {
		t.Fatalf("help = %q", got)
	}
	f.message(t, "what is free?")
	if got := f.last(t).Text; got != "Use the following commands:" {
		t.Fatalf("text = %q", got)
	}
	if ans := f.press(t, "1", "cmd:start"); ans != "Hello there!" {
		t.Fatalf("start answer = %q", ans)
	}
	if n := len(f.ad.Sent()); n != 4 {
		t.Fatalf("sent %d messages, want a new message per response", n)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.message(t, "/show_subscriptions")
	s := f.last(t)
	if s.Text != "You are subscribed to: \nAvailable subscriptions: unity, fab\n\nChoose an option: " {
		t.Fatalf("text = %q", s.Text)
	}
	want := []string{"Subscribe to [unity]=sub:add:unity", "Subscribe to [fab]=sub:add:fab", "Back=cmd:help"}
	if diff := cmp.Diff(want, buttons(t, s)); diff != "" {
		t.Fatalf("buttons (-want +got):\n%s", diff)
	}

	if ans := f.press(t, "a", "sub:add:unity"); ans != "Subscribed to [unity]" {
		t.Fatalf("answer = %q", ans)
	}
	subs, _ := f.store.SubscribersOf(ctx, "unity")
	if diff := cmp.Diff([]core.Subscriber{7}, subs); diff != "" {
		t.Fatalf("subscribers (-want +got):\n%s", diff)
	}
	if got := f.last(t).Text; !strings.HasPrefix(got, "You are subscribed to: unity\nAvailable subscriptions: fab") {
		t.Fatalf("re-rendered view = %q", got)
	}
	select {
	case ev := <-f.events:
		edit, _ := ev.Data.(eventbus.SubscriptionEdit)
		if ev.Type != eventbus.TypeSubscriptionEdit || edit.Action != "add" || edit.ChatID != 7 {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no subscription event")
	}

	if ans := f.press(t, "b", "sub:remove:unity"); ans != "Unsubscribed from [unity]" {
		t.Fatalf("answer = %q", ans)
	}
	if subs, _ := f.store.SubscribersOf(ctx, "unity"); len(subs) != 0 {
		t.Fatalf("still subscribed: %v", subs)
	}
}

func TestInvalidCallbacks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if ans := f.press(t, "1", "sub:add:steam"); ans != "Unknown source [steam]" {
		t.Fatalf("unknown source answer = %q", ans)
	}
	if subs, _ := f.store.SourcesOf(context.Background(), 7); len(subs) != 0 {
		t.Fatalf("unknown source stored: %v", subs)
	}
	if ans := f.press(t, "2", "sub:toggle:unity"); ans != "Invalid action" {
		t.Fatalf("invalid action answer = %q", ans)
	}
	if ans := f.press(t, "3", "cmd:dance"); ans != "Error: Unknown command" {
		t.Fatalf("unknown command answer = %q", ans)
	}
	if got := f.last(t).Text; got != "Error: Unknown command" {
		t.Fatalf("unknown command message = %q", got)
	}
}

func TestShowFreebies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.Subscribe(ctx, 7, "unity")
	_ = f.store.Subscribe(ctx, 7, "fab")
	_ = f.store.PutSnapshot(ctx, "fab", core.MustSnapshot(map[string]any{"items": []string{}}))

	f.message(t, "/show_freebies")
	want := strings.Join([]string{
		"Available assets for your subscriptions on [2026-10-15 09:30:00]:",
		"<b>Fab</b>: unable to show current assets",
		"<b>Unity</b>: nothing available",
	}, "\n\n")
	if got := f.last(t).Text; got != want {
		t.Fatalf("freebies =\n%s\nwant\n%s", got, want)
	}

	_ = f.store.PutSnapshot(ctx, "unity", core.MustSnapshot(map[string]any{"assets": []string{"Barrel", "Crate"}}))
	if ans := f.press(t, "x", "cmd:show_freebies"); ans != "Here's what's free now..." {
		t.Fatalf("answer = %q", ans)
	}
	if got := f.last(t).Text; !strings.Contains(got, "<b>Unity</b>: Barrel, Crate") {
		t.Fatalf("freebies = %q", got)
	}
}
