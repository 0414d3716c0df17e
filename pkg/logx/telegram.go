package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tgQueueSize   = 256
	tgSendTimeout = 10 * time.Second

	// Telegram caps a message at 4096 characters.
	tgMaxMessage = 3500
	tgMaxValue   = 600
	tgMaxStack   = 900
)

// Sender delivers a rendered log line to a chat. The Telegram transport
// implements it; logx never imports the transport package.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

// Keys rendered right after the message, in this order. The rest follow
// alphabetically.
var tgLeadKeys = []string{"comp", "profile", "source", "run_id", "queue_id", "err"}

type tgLine struct {
	chatID   int64
	threadID int
	text     string
}

// telegramSink is a zerolog.LevelWriter that forwards lines at or above a
// minimum level to a chat. Writes never block; overflow is counted and dropped.
type telegramSink struct {
	queue   chan tgLine
	dropped atomic.Uint64

	mu       sync.Mutex
	sender   Sender
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		queue:    make(chan tgLine, tgQueueSize),
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *telegramSink) setSender(s Sender) {
	t.mu.Lock()
	t.sender = s
	t.mu.Unlock()
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
	t.mu.Unlock()
}

// start launches the worker once. It is a no-op after stop.
func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.done)
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-t.queue:
			t.mu.Lock()
			sender := t.sender
			t.mu.Unlock()
			if sender == nil {
				t.dropped.Add(1)
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			if err := sender.SendLog(sctx, ln.chatID, ln.threadID, ln.text); err != nil {
				t.dropped.Add(1)
			}
			cancel()
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID := t.chatID, t.threadID
	ok := chatID != 0 && t.sender != nil && level >= t.minLevel
	lim := t.limiter
	t.mu.Unlock()

	if !ok {
		return len(p), nil
	}
	if !lim.Allow() {
		t.dropped.Add(1)
		return len(p), nil
	}
	text := formatTelegramJSON(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{chatID: chatID, threadID: threadID, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as plain text:
// "[LEVEL] message" followed by "- key=value" lines. Input that is not JSON
// is passed through trimmed.
func formatTelegramJSON(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	// keep chat ids intact
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return clip(string(p), tgMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range fieldOrder(m) {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n")
			b.WriteString(clip(v, tgMaxStack))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(v, tgMaxValue))
	}
	return clip(b.String(), tgMaxMessage)
}

func fieldOrder(m map[string]any) []string {
	skip := map[string]bool{
		zerolog.TimestampFieldName: true,
		zerolog.LevelFieldName:     true,
		zerolog.MessageFieldName:   true,
	}
	var keys []string
	for _, k := range tgLeadKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			skip[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !skip[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
