package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"assetsy/internal/core"
	logx "assetsy/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return unavailable("ping", s.db.PingContext(ctx))
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, src core.Source) (core.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE source = ?`, string(src)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.NoPriorData, nil
	}
	if err != nil {
		return core.NoPriorData, unavailable("get snapshot", err)
	}
	return storedSnapshot(src, []byte(data), s.log), nil
}

func (s *sqliteStore) PutSnapshot(ctx context.Context, src core.Source, snap core.Snapshot) error {
	if !snap.Present() {
		return errAbsentSnapshot
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(source, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(source) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		string(src), string(snap.Bytes()), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return unavailable("put snapshot", err)
}

func (s *sqliteStore) SubscribersOf(ctx context.Context, src core.Source) ([]core.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber FROM subscriptions WHERE source = ? ORDER BY subscriber`, string(src))
	if err != nil {
		return nil, unavailable("subscribers of", err)
	}
	defer rows.Close()
	out := []core.Subscriber{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("subscribers of", err)
		}
		out = append(out, core.Subscriber(id))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("subscribers of", err)
	}
	return out, nil
}

func (s *sqliteStore) SourcesOf(ctx context.Context, sub core.Subscriber) ([]core.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source FROM subscriptions WHERE subscriber = ? ORDER BY source`, int64(sub))
	if err != nil {
		return nil, unavailable("sources of", err)
	}
	defer rows.Close()
	out := []core.Source{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, unavailable("sources of", err)
		}
		out = append(out, core.Source(src))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sources of", err)
	}
	return out, nil
}

func (s *sqliteStore) Subscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(subscriber, source, created_at) VALUES(?,?,?)`,
		int64(sub), string(src), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return unavailable("subscribe", err)
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, sub core.Subscriber, src core.Source) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber = ? AND source = ?`, int64(sub), string(src))
	return unavailable("unsubscribe", err)
}
