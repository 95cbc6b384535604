package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "assetsy/internal/transport"
	"assetsy/pkg/tgui"
)

const (
	telegramMaxRunes = 3500
	telegramMsgRunes = 1000
	telegramValRunes = 300
)

// telegramSink is a zerolog.LevelWriter that never blocks the caller:
// records are rate limited, queued and sent by one goroutine.
type telegramSink struct {
	sender kit.Adapter
	queue  chan string

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegramSink(sender kit.Adapter) *telegramSink {
	ctx, cancel := context.WithCancel(context.Background())
	t := &telegramSink{
		sender: sender,
		queue:  make(chan string, 128),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(cfg.RatePerSec, 1)
	t.mu.Lock()
	t.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			t.mu.Lock()
			to := t.to
			t.mu.Unlock()
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = t.sender.SendText(sctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.cancel()
	<-t.done
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	ok := level >= t.minLevel && t.limiter.Allow()
	t.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case t.queue <- text:
		default:
		}
	}
	return len(p), nil
}

var levelIcon = map[string]string{"warn": "⚠️", "error": "🛑", "fatal": "🛑", "panic": "🛑"}

// formatTelegramJSON renders one zerolog JSON line as a short HTML message:
// icon, level and message in bold, then one key=value line per field.
func formatTelegramJSON(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), telegramMaxRunes)).String()
	}
	level, _ := rec["level"].(string)
	msg, _ := rec["message"].(string)
	delete(rec, "level")
	delete(rec, "message")
	delete(rec, "time")

	head := tgui.B(strings.ToUpper(level) + " " + tgui.TruncRunes(msg, telegramMsgRunes))
	if icon := levelIcon[level]; icon != "" {
		head = tgui.Raw(icon + " " + head.String())
	}
	lines := []tgui.H{head}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := tgui.TruncRunes(fmt.Sprint(rec[k]), telegramValRunes)
		lines = append(lines, tgui.Raw(tgui.Esc(k).String()+"="+tgui.Code(v).String()))
	}
	return tgui.JoinH("\n", lines...).String()
}
