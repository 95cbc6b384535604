package storage

import (
	"context"
	"sort"
	"sync"

	"assetsy/internal/core"
	logx "assetsy/pkg/logx"
)

// state is the in-memory view shared by the memory and file drivers.
// Callers hold the owning store's lock.
type state struct {
	snapshots map[core.Source][]byte
	subs      map[core.Subscriber]map[core.Source]struct{}
}

func newState() *state {
	return &state{
		snapshots: map[core.Source][]byte{},
		subs:      map[core.Subscriber]map[core.Source]struct{}{},
	}
}

func (st *state) get(src core.Source, log logx.Logger) core.Snapshot {
	b, ok := st.snapshots[src]
	if !ok {
		return core.NoPriorData
	}
	return storedSnapshot(src, b, log)
}

// storedSnapshot parses a persisted value. An unreadable value is reported
// as NoPriorData so the next extraction overwrites it.
func storedSnapshot(src core.Source, b []byte, log logx.Logger) core.Snapshot {
	snap, err := core.ParseSnapshot(b)
	if err != nil {
		log.Warn("discarding unreadable snapshot", logx.String("source", string(src)), logx.Err(err))
		return core.NoPriorData
	}
	return snap
}

func (st *state) put(src core.Source, b []byte) { st.snapshots[src] = b }

func (st *state) subscribe(sub core.Subscriber, src core.Source) {
	m := st.subs[sub]
	if m == nil {
		m = map[core.Source]struct{}{}
		st.subs[sub] = m
	}
	m[src] = struct{}{}
}

func (st *state) unsubscribe(sub core.Subscriber, src core.Source) {
	m := st.subs[sub]
	if m == nil {
		return
	}
	delete(m, src)
	if len(m) == 0 {
		delete(st.subs, sub)
	}
}

func (st *state) subscribersOf(src core.Source) []core.Subscriber {
	out := []core.Subscriber{}
	for sub, m := range st.subs {
		if _, ok := m[src]; ok {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (st *state) sourcesOf(sub core.Subscriber) []core.Source {
	out := []core.Source{}
	for src := range st.subs[sub] {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type memoryStore struct {
	log    logx.Logger
	mu     sync.RWMutex
	st     *state
	closed bool
}

// NewMemory returns a process-local store.
func NewMemory() Store { return newMemory(logx.Nop()) }

func newMemory(log logx.Logger) *memoryStore {
	return &memoryStore{log: log, st: newState()}
}

func (s *memoryStore) GetSnapshot(ctx context.Context, src core.Source) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get snapshot"); err != nil {
		return core.NoPriorData, err
	}
	return s.st.get(src, s.log), nil
}

func (s *memoryStore) PutSnapshot(ctx context.Context, src core.Source, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "put snapshot"); err != nil {
		return err
	}
	if !snap.Present() {
		return errAbsentSnapshot
	}
	s.st.put(src, snap.Bytes())
	return nil
}

func (s *memoryStore) SubscribersOf(ctx context.Context, src core.Source) ([]core.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "subscribers of"); err != nil {
		return nil, err
	}
	return s.st.subscribersOf(src), nil
}

func (s *memoryStore) SourcesOf(ctx context.Context, sub core.Subscriber) ([]core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "sources of"); err != nil {
		return nil, err
	}
	return s.st.sourcesOf(sub), nil
}

func (s *memoryStore) Subscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "subscribe"); err != nil {
		return err
	}
	s.st.subscribe(sub, src)
	return nil
}

func (s *memoryStore) Unsubscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "unsubscribe"); err != nil {
		return err
	}
	s.st.unsubscribe(sub, src)
	return nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx, "ping")
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) check(ctx context.Context, op string) error {
	if s.closed {
		return unavailable(op, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}
