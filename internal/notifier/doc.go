// Package notifier delivers rendered change notifications to subscribers.
//
// Send is synchronous and never fails the caller: transport errors and
// panics come back as a failed core.Outcome. Concurrency is the caller's
// choice; a shared token bucket keeps the bot under Telegram's global
// send limit.
//
// # Transport
//
// The service delegates delivery to a kit.Adapter implementation (the
// Telegram adapter in production, a fake in tests).
package notifier
