// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "assetsy/internal/transport"
)

// Sent is one recorded SendText call.
type Sent struct {
	To   kit.ChatTarget
	Ref  kit.MessageRef
	Text string
	Opt  kit.SendOptions
}

// Adapter records outgoing calls. FailFor makes SendText fail for chosen chats.
type Adapter struct {
	mu       sync.Mutex
	sent     []Sent
	answers  map[string]string
	menu     []kit.BotCommand
	nextID   int
	FailFor  func(chatID int64) error
	PanicFor func(chatID int64) bool
}

func New() *Adapter { return &Adapter{answers: map[string]string{}} }

// Start returns immediately; tests feed updates to the router directly.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (a *Adapter) Stop(ctx context.Context) error { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if a.PanicFor != nil && a.PanicFor(to.ChatID) {
		panic("transporttest: send panic")
	}
	if a.FailFor != nil {
		if err := a.FailFor(to.ChatID); err != nil {
			return kit.MessageRef{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	s := Sent{To: to, Ref: ref, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	return ref, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	a.mu.Lock()
	a.answers[callbackID] = text
	a.mu.Unlock()
	return nil
}

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

// Sent returns a copy of every recorded message.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// SentTo returns the texts delivered to chatID in order.
func (a *Adapter) SentTo(chatID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, s := range a.sent {
		if s.To.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

// Answer returns the text used to answer callbackID.
func (a *Adapter) Answer(callbackID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.answers[callbackID]
	return t, ok
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// Reset drops recorded calls.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.answers = map[string]string{}
	a.mu.Unlock()
}
