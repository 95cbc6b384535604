package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"assetsy/internal/core"
)

// ErrUnavailable matches every failure of the backing medium.
var ErrUnavailable = errors.New("storage unavailable")

// UnavailableError wraps a backend failure with the operation that hit it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

var (
	errClosed         = errors.New("store closed")
	errAbsentSnapshot = errors.New("cannot store an absent snapshot")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free JSON state file plus journal
//   - "memory": process-local, lost on restart
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	CompactEvery int           // file only; 0 means default
}

// SnapshotStore persists the latest snapshot per source.
type SnapshotStore interface {
	// GetSnapshot returns core.NoPriorData for a source never stored.
	GetSnapshot(ctx context.Context, src core.Source) (core.Snapshot, error)
	// PutSnapshot overwrites the whole value. A failed put keeps the previous value.
	PutSnapshot(ctx context.Context, src core.Source, snap core.Snapshot) error
}

// SubscriptionStore is the many-to-many relation between chats and sources.
type SubscriptionStore interface {
	// SubscribersOf returns subscribers sorted ascending.
	SubscribersOf(ctx context.Context, src core.Source) ([]core.Subscriber, error)
	// SourcesOf returns sources sorted by name.
	SourcesOf(ctx context.Context, sub core.Subscriber) ([]core.Source, error)
	Subscribe(ctx context.Context, sub core.Subscriber, src core.Source) error
	Unsubscribe(ctx context.Context, sub core.Subscriber, src core.Source) error
}

// Store is the persistence API used by the pipeline and the bot.
type Store interface {
	SnapshotStore
	SubscriptionStore
	Ping(ctx context.Context) error
	Close() error
}
