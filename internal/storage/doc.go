// Package storage persists the latest snapshot per source and the
// subscriber/source relation.
//
// Three drivers share one contract:
//   - sqlite (modernc.org/sqlite, default)
//   - file (JSON state plus append-only journal)
//   - memory (tests and development)
//
// Every backend failure is reported as *UnavailableError, which matches
// ErrUnavailable with errors.Is.
package storage
