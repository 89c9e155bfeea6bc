package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook is the operator-facing session journal: one plain-text line per
// protocol milestone, appended to .protocol/logs/session.log.
type Logbook struct {
	shared *journal
	run    string
}

type journal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Option customizes a logbook.
type Option func(*journal)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(j *journal) {
		if clock != nil {
			j.now = clock
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: ensure dir: %w", err)
	}
	j := &journal{path: path, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	return &Logbook{shared: j}, nil
}

// ForRun returns a view that tags every entry with the run identifier.
// Views share the underlying file and lock.
func (l *Logbook) ForRun(runID string) *Logbook {
	if l == nil {
		return nil
	}
	return &Logbook{shared: l.shared, run: strings.TrimSpace(runID)}
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil || l.shared == nil {
		return ""
	}
	return l.shared.path
}

// Append writes a single entry.
func (l *Logbook) Append(level Level, message string) {
	if l == nil || l.shared == nil {
		return
	}
	j := l.shared
	j.mu.Lock()
	defer j.mu.Unlock()
	message = strings.Join(strings.Fields(message), " ")
	if l.run != "" {
		message = "[" + shortRun(l.run) + "] " + message
	}
	line := fmt.Sprintf("%s %-5s %s\n", j.now().UTC().Format(time.RFC3339), string(level), message)
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total number
// of entries in the journal.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || l.shared == nil {
		return nil, 0
	}
	j := l.shared
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if maxLines <= 0 || total == 0 {
		return nil, total
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
