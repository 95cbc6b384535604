package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rtsup "assetsy/internal/runtime/supervisor"
	kit "assetsy/internal/transport"
	logx "assetsy/pkg/logx"
)

// Command is a single-token slash command.
type Command struct {
	Name        string
	Description string
	Hidden      bool // excluded from the Telegram menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type HandlerFunc func(ctx context.Context, req *Request) error

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data "prefix:action[:payload]".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Registry is the full routing table. Text handles non-command messages and
// unknown commands; UnknownCallback handles callback data with no route.
type Registry struct {
	Commands        []Command
	Callbacks       []CallbackRoute
	Text            HandlerFunc
	UnknownCallback HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Text    string
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger

	answered atomic.Bool
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return fallback
	}
	return r.Logger
}

// Answer acknowledges the callback behind this request with text. Later
// calls are ignored; unanswered callbacks are acknowledged silently after the
// handler returns.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Update.Callback == nil || !r.answered.CompareAndSwap(false, true) {
		return nil
	}
	return r.Adapter.AnswerCallback(ctx, r.Update.Callback.ID, text)
}

// Reply sends text to the originating chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

const slowRequest = 750 * time.Millisecond

type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // default per-request timeout
}

type table struct {
	commands  map[string]Command
	callbacks map[string]CallbackRoute // "prefix:action"
	text      HandlerFunc
	unknownCb HandlerFunc
	menu      []kit.BotCommand
}

// Router turns updates into handler calls on a bounded worker pool.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	tbl  atomic.Pointer[table]
	jobs chan func(context.Context)

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	r := &Router{
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		opt:     opt,
		jobs:    make(chan func(context.Context), opt.QueueSize),
	}
	r.tbl.Store(&table{commands: map[string]Command{}, callbacks: map[string]CallbackRoute{}})
	return r
}

// SetRegistry replaces the routing table. Commands with names outside
// Telegram's alphabet are rejected.
func (r *Router) SetRegistry(reg Registry) error {
	t := &table{
		commands:  make(map[string]Command, len(reg.Commands)),
		callbacks: make(map[string]CallbackRoute, len(reg.Callbacks)),
		text:      reg.Text,
		unknownCb: reg.UnknownCallback,
	}
	var listed []Command
	for _, c := range reg.Commands {
		name, ok := commandName(c.Name)
		if !ok || c.Handle == nil {
			return fmt.Errorf("router: invalid command %q", c.Name)
		}
		if _, dup := t.commands[name]; dup {
			return fmt.Errorf("router: duplicate command %q", name)
		}
		c.Name = name
		t.commands[name] = c
		listed = append(listed, c)
	}
	for _, cb := range reg.Callbacks {
		p, a := strings.TrimSpace(cb.Prefix), strings.TrimSpace(cb.Action)
		if p == "" || a == "" || cb.Handle == nil || strings.Contains(p, ":") || strings.Contains(a, ":") {
			return fmt.Errorf("router: invalid callback route %q:%q", cb.Prefix, cb.Action)
		}
		t.callbacks[p+":"+a] = cb
	}
	t.menu = menuCommands(listed)
	r.tbl.Store(t)
	return nil
}

// MenuCommands lists visible commands in registration order.
func (r *Router) MenuCommands() []kit.BotCommand {
	return append([]kit.BotCommand(nil), r.tbl.Load().menu...)
}

// PublishMenu pushes the command menu when the adapter supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}

// Run consumes updates until ctx is done or updates is closed. Handlers run
// on a fixed pool of workers; when the queue is full the update is dropped
// and the user is told to retry.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()
	r.log.Info("dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(c, idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) runJob(ctx context.Context, idx int, job func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in worker", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	job := func(c context.Context) { _ = r.Handle(c, up) }
	select {
	case r.jobs <- job:
		return
	default:
	}
	r.log.Warn("dispatcher busy, update dropped", logx.String("kind", string(up.Kind)))
	switch {
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "busy, try again", nil)
	}
}

// Handle routes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	t := r.tbl.Load()
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		return r.handleMessage(ctx, t, up)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return nil
		}
		return r.handleCallback(ctx, t, up)
	}
	return nil
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

// serve runs h under the route timeout, turning a panic into an error, and
// logs the outcome. Slow requests are logged at info.
func (r *Router) serve(ctx context.Context, h HandlerFunc, timeout time.Duration, req *Request) (err error) {
	if timeout <= 0 {
		timeout = r.opt.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := req.logger(r.log)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("handler panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("request failed", logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took), logx.Err(err))
		case took >= slowRequest:
			log.Info("slow request", logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took))
		default:
			log.Debug("request done", logx.String("kind", string(req.Update.Kind)), logx.Duration("took", took))
		}
	}()
	return h(ctx, req)
}

func (r *Router) handleMessage(ctx context.Context, t *table, up kit.Update) error {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text)
		word, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
		if cmd, ok := t.commands[strings.ToLower(word)]; ok {
			req := r.newRequest(up, chat, msg.FromID, cmd.Name)
			req.Args, req.Text = fields[1:], text
			return r.serve(ctx, cmd.Handle, cmd.Timeout, req)
		}
	}
	if t.text == nil {
		return nil
	}
	req := r.newRequest(up, chat, msg.FromID, "text")
	req.Text = text
	return r.serve(ctx, t.text, 0, req)
}

func (r *Router) handleCallback(ctx context.Context, t *table, up kit.Update) error {
	cb := up.Callback
	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	data := strings.TrimSpace(cb.Data)
	parts := strings.SplitN(data, ":", 3)

	var (
		h       HandlerFunc
		timeout time.Duration
		req     *Request
	)
	if route, ok := t.callbacks[strings.Join(parts[:min(2, len(parts))], ":")]; ok && len(parts) >= 2 {
		req = r.newRequest(up, chat, cb.FromID, "cb:"+parts[0]+":"+parts[1])
		if len(parts) == 3 {
			req.Payload = parts[2]
		}
		h = func(c context.Context, rq *Request) error { return route.Handle(c, rq, rq.Payload) }
		timeout = route.Timeout
	} else {
		req = r.newRequest(up, chat, cb.FromID, "cb:unknown")
		req.Payload = data
		h = t.unknownCb
	}

	var err error
	if h != nil {
		err = r.serve(ctx, h, timeout, req)
	}
	// Stop the client's loading spinner if the handler did not answer.
	_ = req.Answer(ctx, "")
	return err
}
