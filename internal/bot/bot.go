package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"assetsy/internal/core"
	"assetsy/internal/eventbus"
	"assetsy/internal/source"
	"assetsy/internal/storage"
	kit "assetsy/internal/transport"
	"assetsy/internal/transport/telegram/router"
	logx "assetsy/pkg/logx"
	"assetsy/pkg/tgui"
)

const (
	cmdStart         = "start"
	cmdHelp          = "help"
	cmdSubscriptions = "show_subscriptions"
	cmdFreebies      = "show_freebies"
)

type command struct {
	name        string
	description string
	answer      string // callback acknowledgement when triggered from a button
}

var commands = []command{
	{cmdStart, "Start", "Hello there!"},
	{cmdHelp, "Get list of commands", "Here are available commands..."},
	{cmdSubscriptions, "Show subscriptions", "Here's what you can monitor..."},
	{cmdFreebies, "Show available freebies", "Here's what's free now..."},
}

const (
	textWelcome      = "Welcome! 👋\n\nChoose a command:"
	textChoose       = "Choose a command:"
	textUseCommands  = "Use the following commands:"
	textUnknownCmd   = "Error: Unknown command"
	textInvalid      = "Invalid action"
	textStoreFailure = "Storage is unavailable right now, please try again later."
	freebiesLayout   = "2006-01-02 15:04:05"
)

type Deps struct {
	Registry *source.Registry
	Store    interface {
		storage.SnapshotStore
		storage.SubscriptionStore
	}
	Bus eventbus.Bus
	Log logx.Logger
	Now func() time.Time
}

// Bot holds the command handlers. It keeps no per-chat state.
type Bot struct {
	deps Deps
	log  logx.Logger
}

func New(deps Deps) *Bot {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Bot{deps: deps, log: log.With(logx.String("comp", "bot"))}
}

// Routes is the routing table for the router.
func (b *Bot) Routes() router.Registry {
	reg := router.Registry{
		Text:            b.handleText,
		UnknownCallback: b.handleUnknownCallback,
		Callbacks: []router.CallbackRoute{
			{Prefix: cbSub, Action: actAdd, Handle: b.subscriptionAction(actAdd)},
			{Prefix: cbSub, Action: actRemove, Handle: b.subscriptionAction(actRemove)},
		},
	}
	for _, c := range commands {
		h := b.handler(c.name)
		reg.Commands = append(reg.Commands, router.Command{Name: c.name, Description: c.description, Handle: h})
		answer := c.answer
		reg.Callbacks = append(reg.Callbacks, router.CallbackRoute{
			Prefix: cbCommand,
			Action: c.name,
			Handle: func(ctx context.Context, req *router.Request, _ string) error {
				_ = req.Answer(ctx, answer)
				return h(ctx, req)
			},
		})
	}
	return reg
}

func (b *Bot) handler(name string) router.HandlerFunc {
	switch name {
	case cmdStart:
		return func(ctx context.Context, req *router.Request) error {
			return respond(ctx, req, tgui.Esc(textWelcome), nil)
		}
	case cmdHelp:
		return func(ctx context.Context, req *router.Request) error {
			return respond(ctx, req, tgui.Esc(textChoose), nil)
		}
	case cmdSubscriptions:
		return b.showSubscriptions
	case cmdFreebies:
		return b.showFreebies
	}
	return nil
}

// respond always sends a new message, with the main keyboard unless markup is
// given.
func respond(ctx context.Context, req *router.Request, text tgui.H, markup *tele.ReplyMarkup) error {
	if markup == nil {
		markup = MainKeyboard()
	}
	return req.Reply(ctx, text.String(), &kit.SendOptions{
		ParseMode:      tele.ModeHTML,
		DisablePreview: true,
		Markup:         markup,
	})
}

func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	return respond(ctx, req, tgui.Esc(textUseCommands), nil)
}

func (b *Bot) handleUnknownCallback(ctx context.Context, req *router.Request) error {
	prefix, action, _, ok := tgui.ParseData(req.Payload)
	if ok && prefix == cbCommand {
		req.Logger.Warn("unknown command callback", logx.String("command", action))
		_ = req.Answer(ctx, textUnknownCmd)
		return respond(ctx, req, tgui.Esc(textUnknownCmd), nil)
	}
	req.Logger.Warn("unknown callback", logx.String("data", req.Payload))
	return req.Answer(ctx, textInvalid)
}

func (b *Bot) subscriptionAction(action string) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, payload string) error {
		src := core.Source(strings.TrimSpace(payload))
		if _, ok := b.deps.Registry.Lookup(src); !ok {
			req.Logger.Warn("subscription to unknown source", logx.String("source", payload))
			return req.Answer(ctx, fmt.Sprintf("Unknown source [%s]", payload))
		}
		who := subscriber(req)

		var err error
		var answer string
		if action == actAdd {
			err = b.deps.Store.Subscribe(ctx, who, src)
			answer = fmt.Sprintf("Subscribed to [%s]", src)
		} else {
			err = b.deps.Store.Unsubscribe(ctx, who, src)
			answer = fmt.Sprintf("Unsubscribed from [%s]", src)
		}
		if err != nil {
			_ = req.Answer(ctx, textStoreFailure)
			return err
		}
		req.Logger.Info("subscription changed", logx.String("source", string(src)), logx.String("action", action))
		eventbus.Publish(b.deps.Bus, eventbus.TypeSubscriptionEdit, eventbus.SubscriptionEdit{
			ChatID: int64(who), Source: string(src), Action: action,
		})
		_ = req.Answer(ctx, answer)
		return b.showSubscriptions(ctx, req)
	}
}

// subscriber is the chat the request came from; notifications go there.
func subscriber(req *router.Request) core.Subscriber { return core.Subscriber(req.Chat.ChatID) }

func (b *Bot) showSubscriptions(ctx context.Context, req *router.Request) error {
	current, err := b.deps.Store.SourcesOf(ctx, subscriber(req))
	if err != nil {
		_ = respond(ctx, req, tgui.Esc(textStoreFailure), nil)
		return err
	}
	subscribed := make(map[core.Source]bool, len(current))
	for _, s := range current {
		subscribed[s] = true
	}
	var available []core.Source
	for _, s := range b.deps.Registry.Names() {
		if !subscribed[s] {
			available = append(available, s)
		}
	}
	text := fmt.Sprintf("You are subscribed to: %s\nAvailable subscriptions: %s\n\nChoose an option: ",
		joinSources(current), joinSources(available))
	return respond(ctx, req, tgui.Esc(text), subscriptionsKeyboard(current, available))
}

func (b *Bot) showFreebies(ctx context.Context, req *router.Request) error {
	current, err := b.deps.Store.SourcesOf(ctx, subscriber(req))
	if err != nil {
		_ = respond(ctx, req, tgui.Esc(textStoreFailure), nil)
		return err
	}
	sections := []string{tgui.Esc(fmt.Sprintf("Available assets for your subscriptions on [%s]:", b.deps.Now().Format(freebiesLayout))).String()}
	for _, src := range current {
		e, ok := b.deps.Registry.Lookup(src)
		if !ok {
			continue
		}
		snap, err := b.deps.Store.GetSnapshot(ctx, src)
		if err != nil {
			_ = respond(ctx, req, tgui.Esc(textStoreFailure), nil)
			return err
		}
		sections = append(sections, b.render(req.Logger, e, snap))
	}
	return respond(ctx, req, tgui.Raw(strings.Join(sections, "\n\n")), nil)
}

func (b *Bot) render(log logx.Logger, e source.Entry, snap core.Snapshot) (text string) {
	if !snap.Present() {
		return tgui.B(e.Title).String() + ": nothing available"
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("renderer panicked", logx.String("source", string(e.Name())), logx.Any("panic", r))
			text = tgui.B(e.Title).String() + ": unable to show current assets"
		}
	}()
	return e.Renderer.Render(snap)
}

func joinSources(in []core.Source) string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return strings.Join(out, ", ")
}
