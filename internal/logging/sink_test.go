package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"panwatch/pkg/panwatch"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []panwatch.LogEntry
}

func (m *memoryStore) AddLogEntry(_ context.Context, e panwatch.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func TestStoreSinkPersistsAboveLevel(t *testing.T) {
	store := &memoryStore{}
	sink := NewStoreSink(store, slog.LevelWarn, 8)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := Tee(base, sink).With("agent", "daily_report").WithGroup("run")

	logger.Info("collect finished", "symbols", 3)
	logger.Warn("market fetch failed", "market", "HK")
	sink.Close()

	if !strings.Contains(buf.String(), "collect finished") || !strings.Contains(buf.String(), "market fetch failed") {
		t.Fatalf("base handler missed records: %s", buf.String())
	}
	if len(store.entries) != 1 {
		t.Fatalf("persisted %d entries, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Level != "WARN" || e.Message != "market fetch failed" {
		t.Fatalf("entry = %+v", e)
	}
	if !strings.Contains(e.Attrs, "agent=daily_report") || !strings.Contains(e.Attrs, "run.market=HK") {
		t.Fatalf("attrs = %q", e.Attrs)
	}
}

func TestStoreSinkIgnoresRecordsAfterClose(t *testing.T) {
	store := &memoryStore{}
	sink := NewStoreSink(store, slog.LevelInfo, 1)
	sink.Close()
	if err := sink.Handle(context.Background(), slog.Record{Level: slog.LevelError, Message: "late"}); err != nil {
		t.Fatalf("Handle after close: %v", err)
	}
	if len(store.entries) != 0 {
		t.Fatalf("unexpected entries: %+v", store.entries)
	}
}
