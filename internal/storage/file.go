package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"assetsy/internal/core"
	logx "assetsy/pkg/logx"
)

const defaultCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json     (compacted state)
//   - <prefix>.journal.jsonl  (append-only journal)
//
// Each mutation is appended and fsynced before the in-memory view changes.
// The journal is compacted into the state file every CompactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.RWMutex
	st *state

	statePath    string
	journal      *os.File
	journalSize  int64
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op         string          `json:"op"` // put | sub | unsub
	Source     core.Source     `json:"source"`
	Subscriber core.Subscriber `json:"subscriber,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type fileState struct {
	Snapshots     map[core.Source]json.RawMessage   `json:"snapshots"`
	Subscriptions map[core.Subscriber][]core.Source `json:"subscriptions"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	prefix := strings.TrimSuffix(cfg.Path, filepath.Ext(cfg.Path))

	statePath := prefix + ".state.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadState(statePath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, unavailable("open", err)
	}
	skipped, err := replayJournal(journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, unavailable("open", err)
	}
	if skipped > 0 {
		log.Warn("skipped torn journal records", logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, unavailable("open", err)
	}
	info, err := jf.Stat()
	if err != nil {
		_ = jf.Close()
		return nil, unavailable("open", err)
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	s := &fileStore{
		log:          log,
		st:           st,
		statePath:    statePath,
		journal:      jf,
		journalSize:  info.Size(),
		compactEvery: every,
	}
	// A torn tail would glue onto the next record; rewrite it away.
	if skipped > 0 {
		s.mu.Lock()
		err = s.compactLocked()
		s.mu.Unlock()
		if err != nil {
			_ = jf.Close()
			return nil, unavailable("open", err)
		}
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "ping"); err != nil {
		return err
	}
	if _, err := s.journal.Stat(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *fileStore) GetSnapshot(ctx context.Context, src core.Source) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get snapshot"); err != nil {
		return core.NoPriorData, err
	}
	return s.st.get(src, s.log), nil
}

func (s *fileStore) PutSnapshot(ctx context.Context, src core.Source, snap core.Snapshot) error {
	if !snap.Present() {
		return errAbsentSnapshot
	}
	data := snap.Bytes()
	return s.mutate(ctx, "put snapshot", journalRecord{Op: "put", Source: src, Data: data}, func() {
		s.st.put(src, data)
	})
}

func (s *fileStore) SubscribersOf(ctx context.Context, src core.Source) ([]core.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "subscribers of"); err != nil {
		return nil, err
	}
	return s.st.subscribersOf(src), nil
}

func (s *fileStore) SourcesOf(ctx context.Context, sub core.Subscriber) ([]core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "sources of"); err != nil {
		return nil, err
	}
	return s.st.sourcesOf(sub), nil
}

func (s *fileStore) Subscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	return s.mutate(ctx, "subscribe", journalRecord{Op: "sub", Source: src, Subscriber: sub}, func() {
		s.st.subscribe(sub, src)
	})
}

func (s *fileStore) Unsubscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	return s.mutate(ctx, "unsubscribe", journalRecord{Op: "unsub", Source: src, Subscriber: sub}, func() {
		s.st.unsubscribe(sub, src)
	})
}

// mutate appends rec durably, then applies it to memory.
func (s *fileStore) mutate(ctx context.Context, op string, rec journalRecord, apply func()) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return err
	}
	if err := s.appendLocked(line); err != nil {
		return unavailable(op, err)
	}
	apply()

	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) appendLocked(line []byte) error {
	n, err := s.journal.Write(line)
	if err == nil {
		err = s.journal.Sync()
	}
	if err != nil {
		// Drop a partial record so the next append starts on a clean line.
		if n > 0 {
			_ = s.journal.Truncate(s.journalSize)
		}
		return err
	}
	s.journalSize += int64(n)
	return nil
}

func (s *fileStore) compactLocked() error {
	fs := fileState{
		Snapshots:     make(map[core.Source]json.RawMessage, len(s.st.snapshots)),
		Subscriptions: make(map[core.Subscriber][]core.Source, len(s.st.subs)),
	}
	for src, b := range s.st.snapshots {
		fs.Snapshots[src] = b
	}
	for sub := range s.st.subs {
		fs.Subscriptions[sub] = s.st.sourcesOf(sub)
	}

	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(fs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return err
	}
	// Replaying records already in the state file is harmless, so a crash
	// before the truncate below loses nothing.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.journalSize = 0
	return nil
}

func (s *fileStore) check(ctx context.Context, op string) error {
	if s.journal == nil {
		return unavailable(op, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func loadState(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var fs fileState
	if err := json.NewDecoder(f).Decode(&fs); err != nil {
		return err
	}
	for src, b := range fs.Snapshots {
		st.put(src, []byte(b))
	}
	for sub, sources := range fs.Subscriptions {
		for _, src := range sources {
			st.subscribe(sub, src)
		}
	}
	return nil
}

// replayJournal applies journal records in order and returns how many
// unreadable lines were skipped.
func replayJournal(path string, st *state) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Source == "" {
			skipped++
			continue
		}
		switch r.Op {
		case "put":
			if len(r.Data) == 0 {
				skipped++
				continue
			}
			st.put(r.Source, []byte(r.Data))
		case "sub":
			st.subscribe(r.Subscriber, r.Source)
		case "unsub":
			st.unsubscribe(r.Subscriber, r.Source)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
