package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"panwatch/pkg/panwatch"
)

// EntryStore persists log entries.
type EntryStore interface {
	AddLogEntry(ctx context.Context, e panwatch.LogEntry) error
}

// Tee returns a logger that writes to base's handler and to extra.
func Tee(base *slog.Logger, extra slog.Handler) *slog.Logger {
	return slog.New(&fanoutHandler{handlers: []slog.Handler{base.Handler(), extra}})
}

type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, child := range h.handlers {
		if child.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, child := range h.handlers {
		if !child.Enabled(ctx, r.Level) {
			continue
		}
		if err := child.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, child := range h.handlers {
		next[i] = child.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, child := range h.handlers {
		next[i] = child.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// StoreSink is a slog.Handler that persists records at or above a level.
// Writes happen on a background goroutine so logging never waits on the
// database; records are dropped when the buffer is full.
type StoreSink struct {
	state  *sinkState
	attrs  []slog.Attr
	groups []string
}

type sinkState struct {
	store   EntryStore
	level   slog.Level
	entries chan panwatch.LogEntry
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewStoreSink starts a sink writing to store.
func NewStoreSink(store EntryStore, level slog.Level, buffer int) *StoreSink {
	if buffer <= 0 {
		buffer = 256
	}
	st := &sinkState{
		store:   store,
		level:   level,
		entries: make(chan panwatch.LogEntry, buffer),
		done:    make(chan struct{}),
	}
	go st.run()
	return &StoreSink{state: st}
}

func (st *sinkState) run() {
	defer close(st.done)
	for e := range st.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = st.store.AddLogEntry(ctx, e)
		cancel()
	}
}

// Close stops accepting records and waits for buffered ones to be written.
func (s *StoreSink) Close() {
	s.state.once.Do(func() {
		s.state.mu.Lock()
		s.state.closed = true
		close(s.state.entries)
		s.state.mu.Unlock()
	})
	<-s.state.done
}

func (s *StoreSink) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.state.level
}

func (s *StoreSink) Handle(_ context.Context, r slog.Record) error {
	var parts []string
	prefix := strings.Join(s.groups, ".")
	for _, a := range s.attrs {
		parts = appendAttr(parts, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = appendAttr(parts, prefix, a)
		return true
	})
	entry := panwatch.LogEntry{
		Timestamp: r.Time.Format(time.RFC3339Nano),
		Level:     r.Level.String(),
		Message:   r.Message,
		Attrs:     strings.Join(parts, " "),
	}

	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	if s.state.closed {
		return nil
	}
	select {
	case s.state.entries <- entry:
	default:
	}
	return nil
}

func (s *StoreSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(s.groups, ".")
	next := append([]slog.Attr{}, s.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		next = append(next, a)
	}
	return &StoreSink{state: s.state, attrs: next, groups: s.groups}
}

func (s *StoreSink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	groups := append(append([]string{}, s.groups...), name)
	return &StoreSink{state: s.state, attrs: s.attrs, groups: groups}
}

func appendAttr(parts []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			parts = appendAttr(parts, key, child)
		}
		return parts
	}
	if key == "" {
		return parts
	}
	return append(parts, fmt.Sprintf("%s=%v", key, a.Value.Any()))
}
