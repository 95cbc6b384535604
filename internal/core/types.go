package core

import "context"

// Source identifies one scraped origin, e.g. "unity".
type Source string

func (s Source) String() string { return string(s) }

// Subscriber is the Telegram chat id that receives notifications.
type Subscriber int64

// Extractor fetches the current snapshot of one source.
// Implementations honor ctx cancellation and hold no state between calls.
type Extractor interface {
	Name() Source
	Extract(ctx context.Context) (Snapshot, error)
}

// Renderer turns a snapshot into notification text. It must not fail;
// an empty snapshot renders a "nothing available" line.
type Renderer interface {
	Render(s Snapshot) string
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Snapshot) string

func (f RendererFunc) Render(s Snapshot) string { return f(s) }

// Outcome is the per-recipient result of one delivery attempt.
type Outcome struct {
	Recipient Subscriber
	Err       error
}

func Delivered(r Subscriber) Outcome { return Outcome{Recipient: r} }

func Failed(r Subscriber, err error) Outcome { return Outcome{Recipient: r, Err: err} }

func (o Outcome) OK() bool { return o.Err == nil }
