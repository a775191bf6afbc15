package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_WritesToRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	cfg := DefaultConfig()
	cfg.FilePath = path

	log, flush := New(cfg)
	log.Infow("directory listening", "port", 8888)
	flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "directory listening") {
		t.Fatalf("expected the message in the file, got %q", line)
	}
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected the level annotation, got %q", line)
	}
	if !strings.Contains(line, "8888") {
		t.Fatalf("expected the structured field, got %q", line)
	}
}

func TestNew_LevelFiltersLowerLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.log")
	cfg := Config{Level: zapcore.WarnLevel, FilePath: path}

	log, flush := New(cfg)
	log.Infow("chatty line")
	log.Warnw("room sweep stalled")
	flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if strings.Contains(line, "chatty line") {
		t.Fatalf("expected info to be filtered, got %q", line)
	}
	if !strings.Contains(line, "room sweep stalled") {
		t.Fatalf("expected the warning through, got %q", line)
	}
}

func TestDefaultConfig_LogsInfoToStderrOnly(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %v", cfg.Level)
	}
	if cfg.FilePath != "" {
		t.Fatalf("expected no file sink by default, got %q", cfg.FilePath)
	}
}
