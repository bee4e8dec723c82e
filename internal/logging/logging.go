// Package logging sets up the process logger. Records go to stdout and a
// daily file, and once a store is attached, to the log_entries table that
// backs the log viewer.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment overrides read by NewLogger.
const (
	EnvLevel  = "PANWATCH_LOG_LEVEL"
	EnvFormat = "PANWATCH_LOG_FORMAT"
)

const (
	filePrefix    = "panwatch"
	retentionDays = 7
	sinkBuffer    = 512
	dayLayout     = "20060102"
)

// Logging owns the process log outputs.
type Logging struct {
	base   *slog.Logger
	level  slog.Level
	writer *DailyWriter

	mu      sync.Mutex
	current *slog.Logger
	sink    *StoreSink
}

// NewLogger writes to stdout and a daily file under dir. EnvLevel overrides
// level and EnvFormat=json switches to JSON output. Days roll over at
// midnight in loc; a nil loc means local time.
func NewLogger(dir string, level slog.Level, loc *time.Location) (*Logging, error) {
	writer, err := NewDailyWriter(dir, filePrefix, retentionDays, loc)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvLevel); strings.TrimSpace(v) != "" {
		level = ParseLevel(v, level)
	}
	opts := &slog.HandlerOptions{Level: level}
	out := io.MultiWriter(os.Stdout, writer)
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(strings.TrimSpace(os.Getenv(EnvFormat)), "json") {
		h = slog.NewJSONHandler(out, opts)
	}
	base := slog.New(h).With("service", filePrefix)
	slog.SetDefault(base)
	return &Logging{base: base, level: level, writer: writer, current: base}, nil
}

// Base returns the logger that never writes to the store. Give it to the
// store itself so a failing insert cannot feed back into the sink.
func (l *Logging) Base() *slog.Logger { return l.base }

// Logger returns the process logger, including the store once Persist ran.
func (l *Logging) Logger() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Persist copies records at or above the logger's level into store and
// returns the combined logger, which also becomes the slog default.
func (l *Logging) Persist(store EntryStore) *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		return l.current
	}
	l.sink = NewStoreSink(store, l.level, sinkBuffer)
	l.current = Tee(l.base, l.sink)
	slog.SetDefault(l.current)
	return l.current
}

// Detach flushes buffered entries to the store and stops persisting. Call it
// before closing the store.
func (l *Logging) Detach() {
	l.mu.Lock()
	sink := l.sink
	l.sink = nil
	l.current = l.base
	l.mu.Unlock()
	if sink != nil {
		slog.SetDefault(l.base)
		sink.Close()
	}
}

// Close detaches the store and closes the log file.
func (l *Logging) Close() error {
	l.Detach()
	return l.writer.Close()
}

// ParseLevel maps a level name or number to a slog.Level.
func ParseLevel(value string, fallback slog.Level) slog.Level {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if i, err := strconv.Atoi(v); err == nil {
			return slog.Level(i)
		}
		return fallback
	}
}

// DailyWriter appends to <prefix>-YYYYMMDD.log and switches files when the
// date changes. Files older than the retention are removed on each switch.
type DailyWriter struct {
	dir    string
	prefix string
	keep   int
	loc    *time.Location
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyWriter opens today's file in dir. Empty prefix and non-positive
// keepDays fall back to the defaults.
func NewDailyWriter(dir, prefix string, keepDays int, loc *time.Location) (*DailyWriter, error) {
	if prefix == "" {
		prefix = filePrefix
	}
	if keepDays <= 0 {
		keepDays = retentionDays
	}
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &DailyWriter{dir: dir, prefix: prefix, keep: keepDays, loc: loc, now: time.Now}
	if err := w.roll(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(w.now()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the current file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyWriter) roll(now time.Time) error {
	day := now.In(w.loc).Format(dayLayout)
	if w.file != nil && day == w.day {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	f, err := os.OpenFile(w.path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file, w.day = f, day
	w.prune(now)
	return nil
}

func (w *DailyWriter) path(day string) string {
	return filepath.Join(w.dir, w.prefix+"-"+day+".log")
}

func (w *DailyWriter) prune(now time.Time) {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.prefix+"-*.log"))
	if err != nil {
		return
	}
	cutoff := now.In(w.loc).AddDate(0, 0, -w.keep).Format(dayLayout)
	for _, m := range matches {
		day := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), w.prefix+"-"), ".log")
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		// Same-width dates compare lexically.
		if day < cutoff {
			_ = os.Remove(m)
		}
	}
}
