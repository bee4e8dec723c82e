package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"panwatch/internal/ai"
	"panwatch/internal/config"
	"panwatch/internal/engine"
	"panwatch/internal/market"
	"panwatch/internal/metrics"
	"panwatch/internal/notify"
	"panwatch/pkg/panwatch"
)

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, panwatch.ShanghaiLocation())

type stubAI struct{ reply string }

func (s stubAI) Chat(context.Context, string, string) (string, error) { return s.reply, nil }

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, notify.Message) error { return nil }

type stubQuotes map[string]market.Quote

func (s stubQuotes) FetchAll(_ context.Context, byMarket map[market.Code][]string) market.Batch {
	b := market.Batch{Quotes: map[string]market.Quote{}, Failures: map[market.Code]error{}}
	for _, symbols := range byMarket {
		b.Attempted++
		for _, sym := range symbols {
			if q, ok := s[sym]; ok {
				b.Quotes[sym] = q
			}
		}
	}
	return b
}

type alwaysTrading struct{}

func (alwaysTrading) AnyTrading(time.Time) bool { return true }

type testServer struct {
	router http.Handler
	core   *panwatch.Core
	engine *engine.Service
}

func setupRouterWithLogger(t *testing.T, logger *slog.Logger) (*testServer, func()) {
	t.Helper()

	tmp := t.TempDir()
	core, err := panwatch.OpenWithOptions(panwatch.Options{
		DBPath: filepath.Join(tmp, "test.db"),
		Logger: logger,
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)
	svc, err := engine.New(engine.Options{
		Core:    core,
		Logger:  logger,
		Metrics: m,
		Quotes: stubQuotes{
			"AAPL": {Symbol: "AAPL", Name: "苹果", Market: market.US, Price: 165, ChangePct: 3.5},
		},
		Gate: alwaysTrading{},
		NewAI: func(context.Context, ai.Endpoint, string) (ai.Client, error) {
			return stubAI{reply: "趋势向上"}, nil
		},
		NewNotifier: func([]panwatch.NotifyChannel, string) notify.Notifier { return stubNotifier{} },
		Clock:       func() time.Time { return testNow },
		Settings:    config.Settings{},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	router := NewRouter(Deps{Core: core, Engine: svc, Metrics: m, Logger: logger})
	cleanup := func() {
		_ = svc.Shutdown(context.Background())
		_ = core.Close()
	}
	return &testServer{router: router, core: core, engine: svc}, cleanup
}

func setupRouter(t *testing.T) (*testServer, func()) {
	t.Helper()
	return setupRouterWithLogger(t, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doRequest(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// decodeData decodes a success envelope and unmarshals its data into out.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != 0 {
		t.Fatalf("expected code 0, got %d", resp.Code)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}
