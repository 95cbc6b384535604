package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"assetsy/internal/core"
	logx "assetsy/pkg/logx"
)

func openers() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.sqlite")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		},
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for name, open := range openers() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			if err := st.Ping(ctx); err != nil {
				t.Fatalf("Ping() = %v", err)
			}

			got, err := st.GetSnapshot(ctx, "alpha")
			if err != nil {
				t.Fatalf("GetSnapshot(missing) = %v", err)
			}
			if got.Present() {
				t.Fatalf("missing source should be NoPriorData, got %s", got)
			}

			first := core.MustSnapshot(map[string]any{"items": []string{"a"}})
			second := core.MustSnapshot(map[string]any{"items": []string{"a", "b"}})
			for _, s := range []core.Snapshot{first, second, second} {
				if err := st.PutSnapshot(ctx, "alpha", s); err != nil {
					t.Fatalf("PutSnapshot() = %v", err)
				}
			}
			got, err = st.GetSnapshot(ctx, "alpha")
			if err != nil || !got.Equal(second) {
				t.Fatalf("GetSnapshot() = %s, %v; want %s", got, err, second)
			}
			if err := st.PutSnapshot(ctx, "alpha", core.NoPriorData); err == nil {
				t.Fatal("storing NoPriorData should fail")
			}

			for _, sub := range []core.Subscriber{30, 10, 20, 10} {
				if err := st.Subscribe(ctx, sub, "alpha"); err != nil {
					t.Fatalf("Subscribe() = %v", err)
				}
			}
			if err := st.Subscribe(ctx, 10, "beta"); err != nil {
				t.Fatal(err)
			}
			subs, err := st.SubscribersOf(ctx, "alpha")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]core.Subscriber{10, 20, 30}, subs); diff != "" {
				t.Fatalf("SubscribersOf mismatch (-want +got):\n%s", diff)
			}
			srcs, err := st.SourcesOf(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]core.Source{"alpha", "beta"}, srcs); diff != "" {
				t.Fatalf("SourcesOf mismatch (-want +got):\n%s", diff)
			}

			for i := 0; i < 2; i++ {
				if err := st.Unsubscribe(ctx, 20, "alpha"); err != nil {
					t.Fatalf("Unsubscribe() = %v", err)
				}
			}
			if err := st.Unsubscribe(ctx, 99, "nope"); err != nil {
				t.Fatalf("Unsubscribe(unknown) = %v", err)
			}
			subs, _ = st.SubscribersOf(ctx, "alpha")
			if diff := cmp.Diff([]core.Subscriber{10, 30}, subs); diff != "" {
				t.Fatalf("after unsubscribe (-want +got):\n%s", diff)
			}
			none, err := st.SubscribersOf(ctx, "gamma")
			if err != nil || len(none) != 0 {
				t.Fatalf("SubscribersOf(gamma) = %v, %v", none, err)
			}
		})
	}
}

func TestUnreadableSnapshotIsNoPriorData(t *testing.T) {
	t.Parallel()
	const bad = `{"items": [`
	corrupt := map[string]func(t *testing.T, log logx.Logger) Store{
		"memory": func(t *testing.T, log logx.Logger) Store {
			ms := newMemory(log)
			ms.st.put("alpha", []byte(bad))
			return ms
		},
		"file": func(t *testing.T, log logx.Logger) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, log)
			if err != nil {
				t.Fatal(err)
			}
			fs := st.(*fileStore)
			fs.mu.Lock()
			fs.st.put("alpha", []byte(bad))
			fs.mu.Unlock()
			return st
		},
		"sqlite": func(t *testing.T, log logx.Logger) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.sqlite")}, log)
			if err != nil {
				t.Fatal(err)
			}
			_, err = st.(*sqliteStore).db.Exec(
				`INSERT INTO snapshots(source, data, updated_at) VALUES(?,?,?)`, "alpha", bad, "2024-01-01T00:00:00Z")
			if err != nil {
				t.Fatal(err)
			}
			return st
		},
	}
	for name, open := range corrupt {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			var buf bytes.Buffer
			st := open(t, logx.New(&buf, "warn"))
			defer st.Close()

			got, err := st.GetSnapshot(ctx, "alpha")
			if err != nil || got.Present() {
				t.Fatalf("GetSnapshot(corrupt) = %s, %v; want NoPriorData", got, err)
			}
			if !strings.Contains(buf.String(), "discarding unreadable snapshot") {
				t.Fatalf("no warning logged:\n%s", buf.String())
			}

			fresh := core.MustSnapshot(map[string]any{"items": []string{"a"}})
			if err := st.PutSnapshot(ctx, "alpha", fresh); err != nil {
				t.Fatalf("PutSnapshot() = %v", err)
			}
			if got, err := st.GetSnapshot(ctx, "alpha"); err != nil || !got.Equal(fresh) {
				t.Fatalf("GetSnapshot() = %s, %v; want %s", got, err, fresh)
			}
		})
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	t.Parallel()
	for name, open := range openers() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st := open(t)
			if err := st.Close(); err != nil {
				t.Fatalf("Close() = %v", err)
			}
			err := st.Ping(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("Ping() after close = %v, want ErrUnavailable", err)
			}
			var ue *UnavailableError
			if !errors.As(err, &ue) || ue.Op != "ping" {
				t.Fatalf("expected *UnavailableError for ping, got %#v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	cfg := Config{Driver: "file", Path: path, CompactEvery: 3}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	snap := core.MustSnapshot(map[string]any{"name": "<b>Rock</b>"})
	_ = st.Subscribe(ctx, 1, "unity")
	_ = st.Subscribe(ctx, 2, "unity")
	_ = st.PutSnapshot(ctx, "unity", snap) // third write compacts
	_ = st.Unsubscribe(ctx, 2, "unity")    // stays in the journal

	// Reopen without Close: state file plus journal must reproduce the view.
	again, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	got, err := again.GetSnapshot(ctx, "unity")
	if err != nil || !got.Equal(snap) {
		t.Fatalf("GetSnapshot after reopen = %s, %v", got, err)
	}
	subs, _ := again.SubscribersOf(ctx, "unity")
	if diff := cmp.Diff([]core.Subscriber{1}, subs); diff != "" {
		t.Fatalf("subscribers after reopen (-want +got):\n%s", diff)
	}
	_ = st.Close()
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	journal := filepath.Join(dir, "bot.journal.jsonl")
	content := `{"op":"sub","source":"fab","subscriber":7}` + "\n" + `{"op":"put","source":"fab","da`
	if err := os.WriteFile(journal, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open with torn journal: %v", err)
	}
	defer st.Close()

	subs, _ := st.SubscribersOf(ctx, "fab")
	if diff := cmp.Diff([]core.Subscriber{7}, subs); diff != "" {
		t.Fatalf("subscribers (-want +got):\n%s", diff)
	}
	if got, _ := st.GetSnapshot(ctx, "fab"); got.Present() {
		t.Fatalf("torn put must not be applied, got %s", got)
	}
	// The next write must land on a clean line.
	if err := st.Subscribe(ctx, 8, "fab"); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(journal)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"op":"sub","source":"fab","subscriber":8}` + "\n"; string(b) != want {
		t.Fatalf("journal = %q, want %q", b, want)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}
