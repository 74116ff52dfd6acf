package framelog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		UserID:    "user-1",
		SessionID: "sess-1",
		Direction: UpstreamToClient,
		Kind:      "text",
		EventType: "response.audio.delta",
		Size:      42,
	})

	path := filepath.Join(dir, "user-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.EventType != "response.audio.delta" || got.Size != 42 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestFileLoggerCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 64}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		logger.Log(Event{UserID: "u", SessionID: "s", Direction: ClientToUpstream, Kind: "binary", Size: i})
	}
	logger.Forget("s")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "u", "s.ndjson"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 10 {
		t.Fatalf("expected 10 lines, got %d", len(lines))
	}

	// Logging after Close is a no-op.
	logger.Log(Event{UserID: "u", SessionID: "s"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestFileLoggerSanitizesPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 4}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{UserID: "../../etc", SessionID: "a/b"})
	waitForLogLine(t, filepath.Join(dir, "______etc", "a_b.ndjson"))
}

func TestFileLoggerKeepsSessionFileAcrossUserChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Log(Event{UserID: "", SessionID: "s", Direction: ClientToRelay, Kind: "text"})
	logger.Log(Event{UserID: "u1", SessionID: "s", Direction: ClientToUpstream, Kind: "text"})
	logger.Forget("s")
	// A released session opens a fresh file under the current user.
	logger.Log(Event{UserID: "u2", SessionID: "s", Direction: RelayToClient, Kind: "text"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "unknown", "s.ndjson"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)), "\n"); len(lines) != 2 {
		t.Fatalf("expected 2 lines in first file, got %d", len(lines))
	}
	if _, err := os.Stat(filepath.Join(dir, "u1", "s.ndjson")); !os.IsNotExist(err) {
		t.Fatalf("expected no per-user file for the overriding user, got err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "u2", "s.ndjson")); err != nil {
		t.Fatalf("expected reopened file after Forget: %v", err)
	}
}

func TestDisabledLoggerIsNop(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Enabled: false, Dir: "/nonexistent/never-created"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := logger.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", logger)
	}
	logger.Log(Event{})
	logger.Forget("s")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
