package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"assetsy/internal/core"
	"assetsy/internal/source"
	"assetsy/internal/storage"
	logx "assetsy/pkg/logx"
)

// scripted returns queued results in order, repeating the last one.
type scripted struct {
	name core.Source
	mu   sync.Mutex
	seq  []func(ctx context.Context) (core.Snapshot, error)
	n    int
}

func (s *scripted) Name() core.Source { return s.name }

func (s *scripted) Extract(ctx context.Context) (core.Snapshot, error) {
	s.mu.Lock()
	i := s.n
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	s.n++
	f := s.seq[i]
	s.mu.Unlock()
	return f(ctx)
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func items(v ...string) func(context.Context) (core.Snapshot, error) {
	return func(context.Context) (core.Snapshot, error) {
		return core.MustSnapshot(map[string]any{"items": append([]string{}, v...)}), nil
	}
}

func fails(err error) func(context.Context) (core.Snapshot, error) {
	return func(context.Context) (core.Snapshot, error) { return core.NoPriorData, err }
}

var listRenderer = core.RendererFunc(func(s core.Snapshot) string {
	var d struct{ Items []string }
	_ = s.Decode(&d)
	if len(d.Items) == 0 {
		return "nothing available"
	}
	return strings.Join(d.Items, ",")
})

type sent struct {
	To   core.Subscriber
	Text string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
	fail map[core.Subscriber]error
}

func (r *recordingSender) Send(ctx context.Context, to core.Subscriber, text string) core.Outcome {
	if err := r.fail[to]; err != nil {
		return core.Failed(to, err)
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, sent{To: to, Text: text})
	r.mu.Unlock()
	return core.Delivered(to)
}

func (r *recordingSender) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	sort.Slice(out, func(i, j int) bool {
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// flakyStore injects failures into selected operations.
type flakyStore struct {
	storage.Store
	failPing bool
	failGet  core.Source
	failSubs core.Source
	failPut  core.Source
}

var errDown = &storage.UnavailableError{Op: "test", Err: errors.New("disk gone")}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.failPing {
		return errDown
	}
	return f.Store.Ping(ctx)
}

func (f *flakyStore) GetSnapshot(ctx context.Context, src core.Source) (core.Snapshot, error) {
	if src == f.failGet {
		return core.NoPriorData, errDown
	}
	return f.Store.GetSnapshot(ctx, src)
}

func (f *flakyStore) SubscribersOf(ctx context.Context, src core.Source) ([]core.Subscriber, error) {
	if src == f.failSubs {
		return nil, errDown
	}
	return f.Store.SubscribersOf(ctx, src)
}

func (f *flakyStore) PutSnapshot(ctx context.Context, src core.Source, s core.Snapshot) error {
	if src == f.failPut {
		return errDown
	}
	return f.Store.PutSnapshot(ctx, src, s)
}

type fixture struct {
	alpha, beta *scripted
	store       *flakyStore
	sender      *recordingSender
	p           *Pipeline
}

func newFixture(t *testing.T, alpha, beta []func(context.Context) (core.Snapshot, error), cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		alpha:  &scripted{name: "alpha", seq: alpha},
		beta:   &scripted{name: "beta", seq: beta},
		store:  &flakyStore{Store: storage.NewMemory()},
		sender: &recordingSender{fail: map[core.Subscriber]error{}},
	}
	reg, err := source.NewRegistry(
		source.Entry{Extractor: f.alpha, Renderer: listRenderer},
		source.Entry{Extractor: f.beta, Renderer: listRenderer},
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, sub := range []struct {
		who core.Subscriber
		src core.Source
	}{{1, "alpha"}, {2, "alpha"}, {3, "beta"}} {
		if err := f.store.Subscribe(ctx, sub.who, sub.src); err != nil {
			t.Fatal(err)
		}
	}
	f.p, err = New(Deps{Registry: reg, Store: f.store, Sender: f.sender, Log: logx.Nop()}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) run(t *testing.T) Report {
	t.Helper()
	rep, err := f.p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return rep
}

func statuses(rep Report) map[core.Source]Status {
	out := map[core.Source]Status{}
	for _, s := range rep.Sources {
		out[s.Source] = s.Status
	}
	return out
}

func TestRunDetectsChangesAndNotifiesSubscribers(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("a1"), items("a1"), items("a1", "a2")},
		[]func(context.Context) (core.Snapshot, error){items("b1")},
		Config{},
	)

	// First run: nothing stored yet, both sources are new.
	rep := f.run(t)
	if rep.RunID == "" || rep.Changed() != 2 {
		t.Fatalf("first run = %+v", rep)
	}
	want := []sent{{1, "a1"}, {2, "a1"}, {3, "b1"}}
	if diff := cmp.Diff(want, f.sender.take()); diff != "" {
		t.Fatalf("first run sends (-want +got):\n%s", diff)
	}

	// Second run: identical snapshots, no writes, no sends.
	rep = f.run(t)
	if diff := cmp.Diff(map[core.Source]Status{"alpha": StatusUnchanged, "beta": StatusUnchanged}, statuses(rep)); diff != "" {
		t.Fatalf("second run statuses (-want +got):\n%s", diff)
	}
	if got := f.sender.take(); len(got) != 0 {
		t.Fatalf("unexpected sends %v", got)
	}

	// Third run: alpha changed, only its subscribers hear about it.
	rep = f.run(t)
	if diff := cmp.Diff([]sent{{1, "a1,a2"}, {2, "a1,a2"}}, f.sender.take()); diff != "" {
		t.Fatalf("third run sends (-want +got):\n%s", diff)
	}
	stored, _ := f.store.GetSnapshot(context.Background(), "alpha")
	if !stored.Equal(core.MustSnapshot(map[string]any{"items": []string{"a1", "a2"}})) {
		t.Fatalf("stored alpha = %s", stored)
	}
	if rep.Sources[0].Delivered != 2 || rep.Sources[0].Failed != 0 {
		t.Fatalf("alpha report = %+v", rep.Sources[0])
	}
}

func TestRunReordersAreNotChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("x", "y"), items("y", "x")},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{},
	)
	f.run(t)
	f.sender.take()
	if rep := f.run(t); rep.Changed() != 0 {
		t.Fatalf("reordered items reported as change: %+v", rep)
	}
}

func TestRunFirstEmptySnapshotIsReportedOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items()},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{},
	)
	f.run(t)
	got := f.sender.take()
	if len(got) != 3 || got[0].Text != "nothing available" {
		t.Fatalf("first run sends = %v", got)
	}
	f.run(t)
	if got := f.sender.take(); len(got) != 0 {
		t.Fatalf("empty snapshot re-reported: %v", got)
	}
}

func TestRunExtractionFailureIsIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("a1"), fails(errors.New("503"))},
		[]func(context.Context) (core.Snapshot, error){items("b1"), items("b2")},
		Config{},
	)
	f.run(t)
	f.sender.take()

	rep := f.run(t)
	if diff := cmp.Diff(map[core.Source]Status{"alpha": StatusExtractFailed, "beta": StatusChanged}, statuses(rep)); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	var ee *core.ExtractionError
	if !errors.As(rep.Sources[0].Err, &ee) || ee.Source != "alpha" {
		t.Fatalf("alpha err = %v", rep.Sources[0].Err)
	}
	if diff := cmp.Diff([]sent{{3, "b2"}}, f.sender.take()); diff != "" {
		t.Fatalf("sends (-want +got):\n%s", diff)
	}
	stored, _ := f.store.GetSnapshot(context.Background(), "alpha")
	if !stored.Equal(core.MustSnapshot(map[string]any{"items": []string{"a1"}})) {
		t.Fatalf("failed extraction overwrote alpha: %s", stored)
	}
}

func TestRunExtractTimeout(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) (core.Snapshot, error) {
		<-ctx.Done()
		return core.NoPriorData, ctx.Err()
	}
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){slow},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{ExtractTimeout: 20 * time.Millisecond},
	)
	rep := f.run(t)
	if !errors.Is(rep.Sources[0].Err, context.DeadlineExceeded) || rep.Sources[1].Status != StatusChanged {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunFanoutFailureDoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("a")},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{FanoutConcurrency: 1},
	)
	f.sender.fail[1] = errors.New("blocked")

	rep := f.run(t)
	if rep.Sources[0].Delivered != 1 || rep.Sources[0].Failed != 1 || rep.Sources[0].Status != StatusChanged {
		t.Fatalf("alpha report = %+v", rep.Sources[0])
	}
	if diff := cmp.Diff([]sent{{2, "a"}, {3, "b"}}, f.sender.take()); diff != "" {
		t.Fatalf("sends (-want +got):\n%s", diff)
	}
	// Persisted despite the failed delivery; no retry next run.
	f.run(t)
	if got := f.sender.take(); len(got) != 0 {
		t.Fatalf("failed delivery retried: %v", got)
	}
}

func TestRunStoreFailuresPersistNothingAndSendNothing(t *testing.T) {
	t.Parallel()
	for _, mode := range []string{"put", "subs", "get"} {
		mode := mode
		t.Run(mode, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t,
				[]func(context.Context) (core.Snapshot, error){items("a")},
				[]func(context.Context) (core.Snapshot, error){items("b")},
				Config{},
			)
			switch mode {
			case "put":
				f.store.failPut = "alpha"
			case "subs":
				f.store.failSubs = "alpha"
			case "get":
				f.store.failGet = "alpha"
			}
			rep := f.run(t)
			if rep.Sources[0].Status != StatusStoreFailed || !errors.Is(rep.Sources[0].Err, storage.ErrUnavailable) {
				t.Fatalf("alpha report = %+v", rep.Sources[0])
			}
			if diff := cmp.Diff([]sent{{3, "b"}}, f.sender.take()); diff != "" {
				t.Fatalf("sends (-want +got):\n%s", diff)
			}

			// Once the store recovers the change is detected again.
			f.store.failPut, f.store.failSubs, f.store.failGet = "", "", ""
			f.run(t)
			if diff := cmp.Diff([]sent{{1, "a"}, {2, "a"}}, f.sender.take()); diff != "" {
				t.Fatalf("recovery sends (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunAbortsWhenStoreUnreachable(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("a")},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{},
	)
	f.store.failPing = true
	rep, err := f.p.Run(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Run() = %v, want ErrUnavailable", err)
	}
	if len(rep.Sources) != 0 || f.alpha.calls() != 0 {
		t.Fatalf("aborted run touched sources: %+v", rep)
	}
}

func TestRunRendererPanicFallsBack(t *testing.T) {
	t.Parallel()
	bad := &scripted{name: "gamma", seq: []func(context.Context) (core.Snapshot, error){items("g")}}
	reg, err := source.NewRegistry(source.Entry{
		Extractor: bad,
		Renderer:  core.RendererFunc(func(core.Snapshot) string { panic("bad template") }),
		Title:     "Gamma <Store>",
	})
	if err != nil {
		t.Fatal(err)
	}
	st := storage.NewMemory()
	_ = st.Subscribe(context.Background(), 9, "gamma")
	snd := &recordingSender{}
	p, err := New(Deps{Registry: reg, Store: st, Sender: snd}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := snd.take()
	if len(got) != 1 || !strings.Contains(got[0].Text, "Gamma &lt;Store&gt;") {
		t.Fatalf("fallback sends = %v", got)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]func(context.Context) (core.Snapshot, error){items("a")},
		[]func(context.Context) (core.Snapshot, error){items("b")},
		Config{},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// memory store Ping reports the canceled ctx as unavailable.
	if _, err := f.p.Run(ctx); err == nil {
		t.Fatal("expected canceled run to abort")
	}
	if f.alpha.calls() != 0 {
		t.Fatal("canceled run should not extract")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("expected error")
	}
}
