package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriterAddsDefaults(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("devsync", "warn", &buf)
	log.Info("hidden")
	log.Warn("shown", "name", "a.pud")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, "app=devsync") || !strings.Contains(out, "pid=") || !strings.Contains(out, "name=a.pud") {
		t.Fatalf("missing attributes: %s", out)
	}
}

func TestWriterRotatesToFile(t *testing.T) {
	if Writer(Options{}) != os.Stdout {
		t.Fatal("empty file should log to stdout")
	}
	p := filepath.Join(t.TempDir(), "devsync.log")
	w := Writer(Options{File: p, MaxSizeMB: 1})
	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("writer is %T", w)
	}
	defer lj.Close()
	if _, err := lj.Write([]byte("direct\n")); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "direct") {
		t.Fatalf("file content %q", b)
	}
}
