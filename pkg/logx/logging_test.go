package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRedact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "connect token=abc123 ok", want: "connect token=[REDACTED] ok"},
		{in: "login password=hunter2&email=bob@example.com", want: "login password=[REDACTED]&email=[REDACTED]"},
		{in: "nothing to hide", want: "nothing to hide"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Fatalf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriterLoggerRedactsFieldsAndMessage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("dial url token=secret", String("dsn", "sqlite://x?password=pw"), Err(errors.New("bad token=zzz")))

	out := buf.String()
	for _, leaked := range []string{"secret", "pw\"", "zzz"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, `"comp":"test"`) {
		t.Fatalf("expected fixed field in output: %s", out)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	ch   chan struct{}
}

func (c *captureSender) Send(_ context.Context, channelID, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, channelID+"|"+text)
	c.mu.Unlock()
	select {
	case c.ch <- struct{}{}:
	default:
	}
	return nil
}

func TestChannelSinkMirrorsWarnings(t *testing.T) {
	sender := &captureSender{ch: make(chan struct{}, 4)}
	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		Channel: ChannelConfig{Enabled: true, ChannelID: "ops", MinLevel: "warn", RatePerSec: 5},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("below threshold")
	log.Warn("game link lost", String("reason", "kicked"))

	select {
	case <-sender.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel sink did not deliver")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %v, want exactly one line", sender.sent)
	}
	got := sender.sent[0]
	if !strings.HasPrefix(got, "ops|[WARN] game link lost") || !strings.Contains(got, "reason=kicked") {
		t.Fatalf("unexpected channel line: %q", got)
	}
}

func TestFileSinkSplitsErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	all := filepath.Join(dir, "combined.log")
	errs := filepath.Join(dir, "error.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: all, ErrorPath: errs},
	}, nil)

	log.Info("relay started")
	log.Error("relay delivery failed", String("token", "x"), Err(errors.New("dial token=leak")))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	combined, err := os.ReadFile(all)
	if err != nil {
		t.Fatalf("read combined: %v", err)
	}
	errorsOnly, err := os.ReadFile(errs)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(combined), "relay started") || !strings.Contains(string(combined), "relay delivery failed") {
		t.Fatalf("combined log = %s", combined)
	}
	if strings.Contains(string(errorsOnly), "relay started") || !strings.Contains(string(errorsOnly), "relay delivery failed") {
		t.Fatalf("error log = %s", errorsOnly)
	}
	if strings.Contains(string(errorsOnly), "leak") {
		t.Fatalf("error log leaked a secret: %s", errorsOnly)
	}
}

func TestFileSinkRotates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	svc, log := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: filepath.Join(dir, "guildrelay.log"), MaxSizeMB: 1, MaxBackups: 2},
	}, nil)

	payload := strings.Repeat("x", 1024)
	for i := 0; i < 1500; i++ {
		log.Info("filler", String("payload", payload))
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var backups int
	for _, e := range entries {
		if name := e.Name(); name != "guildrelay.log" && strings.HasPrefix(name, "guildrelay-") {
			backups++
		}
	}
	if backups == 0 {
		t.Fatalf("no rotated file in %v", entries)
	}
	st, err := os.Stat(filepath.Join(dir, "guildrelay.log"))
	if err != nil {
		t.Fatalf("stat current: %v", err)
	}
	if st.Size() > 1024*1024 {
		t.Fatalf("current log is %d bytes, want <= 1MB", st.Size())
	}
}
