package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"panwatch/pkg/panwatch"
)

const (
	historyDaily     = "daily_analysis"
	historyPremarket = "premarket_analysis"
	skipNonTrading   = "非交易时段"
)

// IntradayMonitor watches each symbol during sessions and lets the AI decide
// whether a signal is worth an alert.
type IntradayMonitor struct {
	deps      Deps
	throttle  time.Duration
	threshold float64
}

func newIntradayMonitor(deps Deps, cfg map[string]any) Agent {
	return &IntradayMonitor{
		deps:      deps,
		throttle:  time.Duration(configInt(cfg, "throttle_minutes", 30)) * time.Minute,
		threshold: configFloat(cfg, "price_alert_threshold", 3.0),
	}
}

func (m *IntradayMonitor) Kind() Kind { return KindIntradayMonitor }

// ThrottleWindow is the per-symbol notification cooldown.
func (m *IntradayMonitor) ThrottleWindow() time.Duration { return m.throttle }

// AlertThreshold is the absolute percent change the intraday scan flags.
func (m *IntradayMonitor) AlertThreshold() float64 { return m.threshold }

func (m *IntradayMonitor) Collect(ctx context.Context, c *Context) (*Data, error) {
	now := m.deps.now()
	if m.deps.Gate != nil && !m.deps.Gate.AnyTrading(now) {
		m.deps.logger().Info("no market in session, skipping intraday monitor")
		return &Data{SkipReason: skipNonTrading, Timestamp: now}, nil
	}
	if len(c.Watchlist) == 0 {
		return &Data{Timestamp: now}, nil
	}
	quotes, err := collectQuotes(ctx, m.deps.Quotes, c.Watchlist)
	if err != nil {
		return nil, err
	}
	return &Data{Quotes: quotes, History: loadHistory(ctx, m.deps, now), Timestamp: now}, nil
}

// loadHistory reads the latest daily report before today and today's
// premarket outlook. Read failures only cost context.
func loadHistory(ctx context.Context, deps Deps, now time.Time) map[string]string {
	out := map[string]string{}
	if deps.History == nil {
		return out
	}
	today := now.Format("2006-01-02")
	if rec, err := deps.History.LatestAnalysis(ctx, KindDailyReport.String(), batchSymbol, today, false); err != nil {
		deps.logger().Warn("load daily analysis failed", "err", err)
	} else if rec != nil {
		out[historyDaily] = rec.Content
	}
	if rec, err := deps.History.LatestAnalysis(ctx, KindPremarketOutlook.String(), batchSymbol, today, true); err != nil {
		deps.logger().Warn("load premarket analysis failed", "err", err)
	} else if rec != nil && rec.AnalysisDate == today {
		out[historyPremarket] = rec.Content
	}
	return out
}

// Prompt renders the user content for stock using positions from c.
func (m *IntradayMonitor) Prompt(c *Context, d *Data, stock panwatch.Stock) string {
	q := d.Quotes[stock.Symbol]
	var b strings.Builder
	fmt.Fprintf(&b, "## 时间：%s\n\n## 股票行情\n", d.Timestamp.Format("2006-01-02 15:04"))
	writeQuote(&b, q)
	writePositions(&b, c.Portfolio.PositionsForSymbol(stock.Symbol), q.Price)

	daily, premarket := d.History[historyDaily], d.History[historyPremarket]
	if daily != "" || premarket != "" {
		b.WriteString("\n## 历史分析参考\n")
		if daily != "" {
			fmt.Fprintf(&b, "\n### 昨日盘后分析摘要\n%s\n", truncateRunes(daily, 300))
		}
		if premarket != "" {
			fmt.Fprintf(&b, "\n### 今日盘前分析摘要\n%s\n", truncateRunes(premarket, 300))
		}
	}
	b.WriteString("\n请结合历史分析和实时行情，判断是否有值得提醒用户的信号。")
	return b.String()
}

// SystemPrompt is the instruction sent with every intraday analysis.
func (m *IntradayMonitor) SystemPrompt() string { return intradaySystemPrompt }

func (m *IntradayMonitor) Analyze(ctx context.Context, c *Context, d *Data) (*Result, error) {
	name := displayName(c, m.Kind())
	if d.SkipReason != "" {
		return &Result{
			Title:   fmt.Sprintf("【%s】跳过", name),
			Content: d.SkipReason,
			RawData: map[string]any{"skipped": true, "skip_reason": d.SkipReason},
			Skipped: true,
		}, nil
	}
	stock, ok := firstQuoted(c.Watchlist, d)
	if !ok {
		return &Result{
			Title:   fmt.Sprintf("【%s】无数据", name),
			Content: "未获取到股票数据",
			Skipped: true,
		}, nil
	}
	if c.AI == nil {
		return nil, errors.New("ai client not configured")
	}

	q := d.Quotes[stock.Symbol]
	reply, err := c.AI.Chat(ctx, intradaySystemPrompt, m.Prompt(c, d, stock))
	if err != nil {
		return nil, err
	}
	shouldAlert := !strings.HasPrefix(strings.TrimSpace(reply), NoAlertMarker)
	return &Result{
		Symbol:  stock.Symbol,
		Title:   fmt.Sprintf("【%s】%s(%s) %+.2f%%", name, q.Name, stock.Symbol, q.ChangePct),
		Content: withFooter(reply, c.ModelLabel),
		RawData: map[string]any{
			"stock": map[string]any{
				"symbol":        stock.Symbol,
				"name":          q.Name,
				"current_price": q.Price,
				"change_pct":    q.ChangePct,
			},
			"should_alert": shouldAlert,
		},
		ShouldAlert: shouldAlert,
	}, nil
}

func (m *IntradayMonitor) ShouldNotify(ctx context.Context, c *Context, r *Result) bool {
	logger := m.deps.logger().With("agent", m.Kind().String(), "symbol", r.Symbol)
	if r.Skipped || r.Symbol == "" {
		return false
	}
	if !r.ShouldAlert {
		logger.Info("ai judged no alert needed")
		return false
	}
	agentName := m.Kind().String()
	if c.BypassThrottle {
		logger.Info("throttle bypassed")
		m.deps.Metrics.ThrottleDecision(agentName, "bypassed")
		return true
	}
	if m.deps.Throttle == nil {
		logger.Error("throttle store not configured, suppressing notification")
		m.deps.Metrics.ThrottleDecision(agentName, "error")
		return false
	}
	key := panwatch.ThrottleKey{AgentName: agentName, Symbol: r.Symbol}
	ok, err := m.deps.Throttle.AcquireNotify(ctx, key, m.throttle)
	switch {
	case err != nil:
		logger.Error("throttle check failed, suppressing notification", "err", err)
		m.deps.Metrics.ThrottleDecision(agentName, "error")
		return false
	case !ok:
		logger.Info("notification throttled", "window", m.throttle)
		m.deps.Metrics.ThrottleDecision(agentName, "denied")
		return false
	}
	m.deps.Metrics.ThrottleDecision(agentName, "allowed")
	return true
}

func firstQuoted(stocks []panwatch.Stock, d *Data) (panwatch.Stock, bool) {
	for _, s := range stocks {
		if _, ok := d.Quotes[s.Symbol]; ok {
			return s, true
		}
	}
	return panwatch.Stock{}, false
}
