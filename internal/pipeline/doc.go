// Package pipeline runs change detection: for every registered source it
// extracts a fresh snapshot, compares it with the stored one, persists a
// change and only then notifies the source's subscribers.
//
// A failure in one source never stops the others. The store is pinged once
// per run; an unreachable store aborts the run and the next trigger retries.
package pipeline
