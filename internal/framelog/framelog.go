// Package framelog writes an optional NDJSON audit trail of relayed frames.
package framelog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// Direction values for Event.Direction.
const (
	ClientToUpstream = "client_to_upstream"
	UpstreamToClient = "upstream_to_client"
	RelayToUpstream  = "relay_to_upstream"
	RelayToClient    = "relay_to_client"
	ClientToRelay    = "client_to_relay"
	UpstreamToRelay  = "upstream_to_relay"
)

// Event is one logged frame. Payloads are never recorded, only metadata.
type Event struct {
	Time      time.Time `json:"ts"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Direction string    `json:"direction"`
	Kind      string    `json:"kind"`
	EventType string    `json:"event_type,omitempty"`
	Size      int       `json:"size"`
}

// Logger records frame events.
type Logger interface {
	Log(Event)
	// Forget releases the file held for a finished session.
	Forget(sessionID string)
	Close() error
}

// Config holds frame log configuration.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// New returns a file-backed logger, or a no-op logger when cfg is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame log dir: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan item, cfg.QueueSize),
		files:  make(map[string]*os.File),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(Event)     {}
func (Nop) Forget(string) {}
func (Nop) Close() error  { return nil }

type item struct {
	event  Event
	forget bool
}

// FileLogger appends events to <dir>/<user>/<session>.ndjson from a single
// background goroutine. Files are keyed by session; the user directory is
// taken from the first event of the session. Log never blocks: events are
// dropped when the queue is full.
type FileLogger struct {
	dir     string
	queue   chan item
	files   map[string]*os.File
	logger  *slog.Logger
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Log queues ev for writing.
func (l *FileLogger) Log(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	l.enqueue(item{event: ev})
}

// Forget closes the file of a finished session once queued events for it are written.
func (l *FileLogger) Forget(sessionID string) {
	l.enqueue(item{event: Event{SessionID: sessionID}, forget: true})
}

func (l *FileLogger) enqueue(it item) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- it:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("Frame log queue full, dropping event",
			"session_id", it.event.SessionID,
			"dropped_total", n,
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *FileLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes queued events and closes every open file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("Frame log writer shutdown timeout", "queue_remaining", len(l.queue))
	}
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)

	for it := range l.queue {
		key := it.event.SessionID
		if it.forget {
			l.closeFile(key)
			continue
		}
		if err := l.write(key, it.event); err != nil {
			l.logger.Warn("Failed to write frame log", "session_id", it.event.SessionID, "error", err)
		}
	}

	for key := range l.files {
		l.closeFile(key)
	}
}

func (l *FileLogger) write(key string, ev Event) error {
	f, ok := l.files[key]
	if !ok {
		path := filepath.Join(l.dir, safeName(ev.UserID), safeName(ev.SessionID)+".ndjson")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create session log dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		l.files[key] = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode frame event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append frame event: %w", err)
	}
	return nil
}

func (l *FileLogger) closeFile(key string) {
	f, ok := l.files[key]
	if !ok {
		return
	}
	delete(l.files, key)
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close frame log", "session_id", key, "error", err)
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafeChars.ReplaceAllString(s, "_")
}
