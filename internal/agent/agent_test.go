package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panwatch/internal/market"
	"panwatch/internal/notify"
	"panwatch/pkg/panwatch"
)

type fakeAI struct {
	mu    sync.Mutex
	reply string
	err   error
	users []string
}

func (f *fakeAI) Chat(_ context.Context, _, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, user)
	return f.reply, f.err
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeQuotes struct {
	quotes   map[string]market.Quote
	failures map[market.Code]error
	calls    int
}

func (f *fakeQuotes) FetchAll(_ context.Context, byMarket map[market.Code][]string) market.Batch {
	f.calls++
	b := market.Batch{Quotes: map[string]market.Quote{}, Failures: map[market.Code]error{}}
	for code, symbols := range byMarket {
		b.Attempted++
		if err, ok := f.failures[code]; ok {
			b.Failures[code] = err
			continue
		}
		for _, s := range symbols {
			if q, ok := f.quotes[s]; ok {
				b.Quotes[s] = q
			}
		}
	}
	return b
}

type gate bool

func (g gate) AnyTrading(time.Time) bool { return bool(g) }

type fakeThrottle struct {
	allow bool
	err   error
	keys  []panwatch.ThrottleKey
}

func (f *fakeThrottle) AcquireNotify(_ context.Context, key panwatch.ThrottleKey, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []panwatch.AgentRun
	analyses []panwatch.AnalysisRecord
}

func (f *fakeRecorder) AddAgentRun(_ context.Context, run panwatch.AgentRun) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return int64(len(f.runs)), nil
}

func (f *fakeRecorder) SaveAnalysis(_ context.Context, rec panwatch.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, rec)
	return nil
}

var fixedNow = time.Date(2026, 3, 10, 10, 0, 0, 0, panwatch.ShanghaiLocation())

func quote(symbol, name string, price, pct float64) market.Quote {
	return market.Quote{Symbol: symbol, Name: name, Price: price, ChangePct: pct, PrevClose: price / (1 + pct/100)}
}

type harness struct {
	ai       *fakeAI
	notifier *fakeNotifier
	quotes   *fakeQuotes
	throttle *fakeThrottle
	recorder *fakeRecorder
	deps     Deps
	pipeline *Pipeline
}

func newHarness(trading bool) *harness {
	h := &harness{
		ai:       &fakeAI{reply: "放量突破，注意止盈"},
		notifier: &fakeNotifier{},
		quotes: &fakeQuotes{quotes: map[string]market.Quote{
			"AAPL":   quote("AAPL", "Apple", 165, 3.5),
			"600519": quote("600519", "贵州茅台", 1500, -1.2),
			"00700":  quote("00700", "腾讯控股", 400, 0.5),
		}},
		throttle: &fakeThrottle{allow: true},
		recorder: &fakeRecorder{},
	}
	h.deps = Deps{
		Quotes:   h.quotes,
		Gate:     gate(trading),
		Throttle: h.throttle,
		Clock:    func() time.Time { return fixedNow },
	}
	h.pipeline = NewPipeline(PipelineOptions{Recorder: h.recorder, Clock: func() time.Time { return fixedNow }})
	return h
}

func (h *harness) context(name string, stocks ...panwatch.Stock) *Context {
	return &Context{
		AgentName:  name,
		Watchlist:  stocks,
		AI:         h.ai,
		Notifier:   h.notifier,
		ModelLabel: "OpenAI/gpt-4o-mini",
	}
}

var (
	aapl    = panwatch.Stock{ID: 1, Symbol: "AAPL", Name: "Apple", Market: "US", Enabled: true}
	moutai  = panwatch.Stock{ID: 2, Symbol: "600519", Name: "贵州茅台", Market: "CN", Enabled: true}
	tencent = panwatch.Stock{ID: 3, Symbol: "00700", Name: "腾讯控股", Market: "HK", Enabled: true}
)

func mustNew(t *testing.T, k Kind, deps Deps) Agent {
	t.Helper()
	a, err := New(k, deps, nil)
	require.NoError(t, err)
	return a
}

func TestRunSingleRestoresWatchlistOnCollectError(t *testing.T) {
	h := newHarness(true)
	h.quotes.failures = map[market.Code]error{market.US: errors.New("timeout")}
	a := mustNew(t, KindIntradayMonitor, h.deps)
	c := h.context("intraday_monitor", aapl, moutai)
	before := append([]panwatch.Stock(nil), c.Watchlist...)

	res, err := h.pipeline.RunSingle(context.Background(), a, c, "AAPL")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, before, c.Watchlist)
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, panwatch.RunStatusFailed, h.recorder.runs[0].Status)
	assert.Equal(t, string(StateFailed), h.recorder.runs[0].State)
}

type panicAgent struct{ Agent }

func (panicAgent) Collect(context.Context, *Context) (*Data, error) { panic("boom") }

func TestRunSingleRestoresWatchlistOnPanic(t *testing.T) {
	h := newHarness(true)
	c := h.context("intraday_monitor", aapl, moutai)
	before := append([]panwatch.Stock(nil), c.Watchlist...)

	assert.Panics(t, func() {
		_, _ = h.pipeline.RunSingle(context.Background(), panicAgent{mustNew(t, KindIntradayMonitor, h.deps)}, c, "AAPL")
	})
	assert.Equal(t, before, c.Watchlist)
}

func TestRunSingleMissingSymbolReturnsNil(t *testing.T) {
	h := newHarness(true)
	c := h.context("intraday_monitor", aapl)
	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "TSLA")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, h.ai.calls())
	assert.Empty(t, h.recorder.runs)
}

func TestRunSingleNoQuoteReturnsNil(t *testing.T) {
	h := newHarness(true)
	msft := panwatch.Stock{ID: 9, Symbol: "MSFT", Name: "Microsoft", Market: "US", Enabled: true}
	c := h.context("intraday_monitor", msft)
	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, h.ai.calls())
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, panwatch.RunStatusSkipped, h.recorder.runs[0].Status)
}

func TestBatchIssuesOneAICall(t *testing.T) {
	h := newHarness(true)
	c := h.context("daily_report", aapl, moutai, tencent)

	res, err := h.pipeline.Run(context.Background(), mustNew(t, KindDailyReport, h.deps), c)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, h.ai.calls())
	assert.Len(t, h.notifier.sent, 1)
	assert.True(t, res.Notified)
	for _, s := range []string{"AAPL", "600519", "00700"} {
		assert.Contains(t, h.ai.users[0], s)
	}
	require.Len(t, h.recorder.analyses, 1)
	assert.Equal(t, "*", h.recorder.analyses[0].Symbol)
	assert.Equal(t, "2026-03-10", h.recorder.analyses[0].AnalysisDate)
}

func TestSingleIssuesOneAICallPerSymbol(t *testing.T) {
	h := newHarness(true)
	a := mustNew(t, KindIntradayMonitor, h.deps)
	c := h.context("intraday_monitor", aapl, moutai, tencent)

	notified := 0
	for _, s := range append([]panwatch.Stock(nil), c.Watchlist...) {
		res, err := h.pipeline.RunSingle(context.Background(), a, c, s.Symbol)
		require.NoError(t, err)
		require.NotNil(t, res)
		if res.Notified {
			notified++
		}
	}
	assert.Equal(t, 3, h.ai.calls())
	assert.Equal(t, 3, notified)
	assert.Len(t, h.throttle.keys, 3)
	assert.Len(t, c.Watchlist, 3)
}

func TestNonTradingSkipsWithoutAIOrNotify(t *testing.T) {
	h := newHarness(false)
	c := h.context("intraday_monitor", aapl)

	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Skipped)
	assert.Zero(t, h.ai.calls())
	assert.Zero(t, h.quotes.calls)
	assert.Empty(t, h.notifier.sent)
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, panwatch.RunStatusSkipped, h.recorder.runs[0].Status)
	assert.Equal(t, string(StateDone), h.recorder.runs[0].State)
	assert.Empty(t, h.recorder.analyses)
}

func TestIntradayAlertEndToEnd(t *testing.T) {
	h := newHarness(true)
	c := h.context("intraday_monitor", aapl)
	c.DisplayName = "盘中监测"
	c.Portfolio = panwatch.PortfolioView{Accounts: []panwatch.AccountView{{
		ID:   1,
		Name: "A1",
		Positions: []panwatch.PositionView{{
			StockID: 1, Symbol: "AAPL", Name: "Apple", Market: "US",
			CostPrice:    panwatch.Amount{Decimal: decimal.NewFromInt(150)},
			Quantity:     100,
			TradingStyle: panwatch.StyleSwing,
		}},
	}}}

	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.ShouldAlert)
	assert.True(t, res.Notified)

	require.Len(t, h.notifier.sent, 1)
	title := h.notifier.sent[0].Title
	assert.Contains(t, title, "AAPL")
	assert.Contains(t, title, "+3.50%")
	assert.True(t, strings.HasSuffix(h.notifier.sent[0].Content, "\n\n---\nAI: OpenAI/gpt-4o-mini"))

	prompt := h.ai.users[0]
	assert.Contains(t, prompt, "### 持仓 1：A1")
	assert.Contains(t, prompt, "- 成本价：150.00")
	assert.Contains(t, prompt, "- 浮动盈亏：+10.0%")
	assert.Equal(t, []panwatch.ThrottleKey{{AgentName: "intraday_monitor", Symbol: "AAPL"}}, h.throttle.keys)
}

func TestIntradayNoAlertMarkerSuppressesNotify(t *testing.T) {
	h := newHarness(true)
	h.ai.reply = "[无需提醒] 波动正常"
	c := h.context("intraday_monitor", aapl)

	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "AAPL")
	require.NoError(t, err)
	assert.False(t, res.ShouldAlert)
	assert.False(t, res.Notified)
	assert.Empty(t, h.notifier.sent)
	assert.Empty(t, h.throttle.keys)
}

func TestIntradayThrottleDeniesAndFailsClosed(t *testing.T) {
	for name, th := range map[string]*fakeThrottle{
		"denied":      {allow: false},
		"store error": {allow: true, err: errors.New("database is locked")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(true)
			h.deps.Throttle = th
			c := h.context("intraday_monitor", aapl)

			res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "AAPL")
			require.NoError(t, err)
			assert.False(t, res.Notified)
			assert.Empty(t, h.notifier.sent)
		})
	}
}

func TestIntradayBypassSkipsThrottle(t *testing.T) {
	h := newHarness(true)
	h.throttle.allow = false
	c := h.context("intraday_monitor", aapl)
	c.BypassThrottle = true

	res, err := h.pipeline.RunSingle(context.Background(), mustNew(t, KindIntradayMonitor, h.deps), c, "AAPL")
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Empty(t, h.throttle.keys)
}

func TestAnalyzeFailureFailsRun(t *testing.T) {
	h := newHarness(true)
	h.ai.err = errors.New("rate limited")
	c := h.context("daily_report", aapl)

	res, err := h.pipeline.Run(context.Background(), mustNew(t, KindDailyReport, h.deps), c)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "rate limited")
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, panwatch.RunStatusFailed, h.recorder.runs[0].Status)
	assert.Empty(t, h.notifier.sent)
}

func TestPartialCollectionContinues(t *testing.T) {
	h := newHarness(true)
	h.quotes.failures = map[market.Code]error{market.HK: errors.New("hk down")}
	c := h.context("daily_report", aapl, tencent)

	res, err := h.pipeline.Run(context.Background(), mustNew(t, KindDailyReport, h.deps), c)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, res.RawData["symbols"])
	assert.Contains(t, h.ai.users[0], "行情获取失败")
}

func TestNotifyFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(true)
	h.notifier.err = errors.New("webhook 500")
	c := h.context("daily_report", aapl)

	res, err := h.pipeline.Run(context.Background(), mustNew(t, KindDailyReport, h.deps), c)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	require.Len(t, h.recorder.runs, 1)
	assert.Equal(t, panwatch.RunStatusSuccess, h.recorder.runs[0].Status)
	assert.Contains(t, h.recorder.runs[0].Error, "webhook 500")
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateCollecting))
	assert.True(t, CanTransition(StateAnalyzing, StateFailed))
	assert.True(t, CanTransition(StateSkipped, StateDone))
	assert.False(t, CanTransition(StatePending, StateNotifying))
	assert.False(t, CanTransition(StateDone, StateCollecting))
	assert.False(t, CanTransition(StateDecidingNotify, StateFailed))
}

func TestRegistryCoversDefinitions(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, len(Kinds()))
	for _, def := range defs {
		k, ok := ParseKind(def.Name)
		require.True(t, ok, def.Name)
		assert.Equal(t, def.Name, k.String())
		assert.True(t, def.ExecutionMode.Valid())
		a, err := New(k, Deps{}, def.Config)
		require.NoError(t, err)
		assert.Equal(t, k, a.Kind())
	}
	_, ok := ParseKind("portfolio_rebalancer")
	assert.False(t, ok)
	_, err := New(Kind(99), Deps{}, nil)
	assert.Error(t, err)
}

func TestIntradayConfigOverrides(t *testing.T) {
	a, err := New(KindIntradayMonitor, Deps{}, map[string]any{"throttle_minutes": 10.0, "price_alert_threshold": 5})
	require.NoError(t, err)
	m := a.(*IntradayMonitor)
	assert.Equal(t, 10*time.Minute, m.ThrottleWindow())
	assert.Equal(t, 5.0, m.AlertThreshold())
}
