package logx

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type captureSender struct {
	mu    sync.Mutex
	lines []string
	got   chan struct{}
}

func (c *captureSender) SendLog(_ context.Context, chatID int64, threadID int, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.With(String("comp", "x")).Info("hello", Int("n", 1), Err(nil))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"delivery failed","profile":"shop"}` + "\n"))
	if !strings.HasPrefix(got, "[WARN] delivery failed") {
		t.Fatalf("unexpected header: %q", got)
	}
	if !strings.Contains(got, "- profile=shop") {
		t.Fatalf("missing field: %q", got)
	}

	raw := formatTelegramJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw = %q", raw)
	}
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := &captureSender{got: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Console: false}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	svc.SetTelegramTarget(-100123, 0)
	svc.Apply(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})

	log.Info("quiet")
	log.Warn("loud", String("profile", "shop"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink did not deliver")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.lines) != 1 {
		t.Fatalf("lines = %d, want 1: %v", len(sender.lines), sender.lines)
	}
	if !strings.Contains(sender.lines[0], "loud") {
		t.Fatalf("unexpected line %q", sender.lines[0])
	}
}

func TestFormatTelegramJSONFieldOrder(t *testing.T) {
	line := `{"level":"error","time":"x","message":"send failed","zeta":1,"alpha":"a","profile":"shop","comp":"relay","chat":-1001234567890}`
	got := formatTelegramJSON([]byte(line))

	want := "[ERROR] send failed\n- comp=relay\n- profile=shop\n- alpha=a\n- chat=-1001234567890\n- zeta=1"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestFormatTelegramJSONClipsLongValues(t *testing.T) {
	long := strings.Repeat("x", 2*tgMaxValue)
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"m","body":"` + long + `"}`))
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("value not clipped: %d bytes", len(got))
	}
	if len(got) > tgMaxMessage {
		t.Fatalf("message too long: %d", len(got))
	}
}

func TestTelegramSinkWithoutTargetStaysQuiet(t *testing.T) {
	sender := &captureSender{got: make(chan struct{}, 1)}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true}}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Error("nobody listens")

	select {
	case <-sender.got:
		t.Fatal("sink delivered without a target")
	case <-time.After(100 * time.Millisecond):
	}
	if n := svc.TelegramDropped(); n != 0 {
		t.Fatalf("dropped = %d, want 0", n)
	}
}

func TestTelegramSinkCountsRateLimited(t *testing.T) {
	svc, log := New(Config{Level: "debug"}, &captureSender{got: make(chan struct{}, 8)})
	t.Cleanup(func() { _ = svc.Close() })

	svc.SetTelegramTarget(-100123, 7)
	svc.Apply(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "error", RatePerSec: 1}})

	log.Error("one")
	log.Error("two")
	log.Error("three")

	if n := svc.TelegramDropped(); n != 2 {
		t.Fatalf("dropped = %d, want 2", n)
	}
}

func TestApplyWritesFileSink(t *testing.T) {
	path := t.TempDir() + "/nested/relay.log"
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(String("comp", "test")).Info("to file", Int64("chat", -100123))
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"message":"to file"`, `"comp":"test"`, `"chat":-100123`, `"caller":"logging_test.go:`} {
		if !strings.Contains(s, want) {
			t.Fatalf("log file missing %s: %s", want, s)
		}
	}
}
