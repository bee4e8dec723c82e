// Package agent implements the collect, analyze, decide and notify pipeline
// and the fixed set of agent variants that run on it.
package agent

import (
	"context"
	"strings"
	"time"

	"panwatch/internal/ai"
	"panwatch/internal/market"
	"panwatch/internal/notify"
	"panwatch/pkg/panwatch"
)

// Context is everything one execution needs. It is built fresh per trigger.
type Context struct {
	AgentName   string
	DisplayName string
	Watchlist   []panwatch.Stock
	Portfolio   panwatch.PortfolioView
	AI          ai.Client
	Notifier    notify.Notifier
	// ModelLabel is "service/model", empty when the fallback endpoint is used.
	ModelLabel string
	// BypassThrottle skips both the throttle check and its update.
	BypassThrottle bool
}

// Data is what Collect gathered.
type Data struct {
	Quotes map[string]market.Quote
	// History holds prior analyses keyed by a variant-specific label.
	History map[string]string
	News    []NewsItem
	Charts  map[string][]byte
	// SkipReason is set when the run was short-circuited before collection.
	SkipReason string
	Timestamp  time.Time
}

// Empty reports whether nothing usable was collected.
func (d *Data) Empty() bool {
	return d == nil || (len(d.Quotes) == 0 && len(d.News) == 0 && len(d.Charts) == 0)
}

// Result is the outcome of Analyze.
type Result struct {
	AgentName   string         `json:"agent_name"`
	Symbol      string         `json:"symbol,omitempty"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Images      [][]byte       `json:"-"`
	RawData     map[string]any `json:"raw_data,omitempty"`
	Skipped     bool           `json:"skipped"`
	ShouldAlert bool           `json:"should_alert"`
	Notified    bool           `json:"notified"`
}

// Agent is one pipeline variant.
type Agent interface {
	Kind() Kind
	Collect(ctx context.Context, c *Context) (*Data, error)
	Analyze(ctx context.Context, c *Context, d *Data) (*Result, error)
	// ShouldNotify may consume a throttle slot; call it at most once per result.
	ShouldNotify(ctx context.Context, c *Context, r *Result) bool
}

// NewsItem is one headline relevant to the watchlist.
type NewsItem struct {
	Symbol      string    `json:"symbol"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// QuoteSource fetches quotes grouped by market.
type QuoteSource interface {
	FetchAll(ctx context.Context, byMarket map[market.Code][]string) market.Batch
}

// TradingGate reports whether any configured market is in session.
type TradingGate interface {
	AnyTrading(now time.Time) bool
}

// HistoryReader reads archived analyses.
type HistoryReader interface {
	LatestAnalysis(ctx context.Context, agentName, symbol, beforeDate string, inclusive bool) (*panwatch.AnalysisRecord, error)
}

// Throttle grants notification slots per agent and symbol.
type Throttle interface {
	AcquireNotify(ctx context.Context, key panwatch.ThrottleKey, window time.Duration) (bool, error)
}

// NewsSource returns recent news for the given stocks.
type NewsSource interface {
	News(ctx context.Context, stocks []panwatch.Stock, since time.Time) ([]NewsItem, error)
}

// ChartSource renders a chart image for one stock.
type ChartSource interface {
	Chart(ctx context.Context, stock panwatch.Stock) ([]byte, error)
}

func groupByMarket(stocks []panwatch.Stock) map[market.Code][]string {
	out := map[market.Code][]string{}
	for _, s := range stocks {
		code := market.ParseCode(s.Market)
		out[code] = append(out[code], s.Symbol)
	}
	return out
}

func narrowWatchlist(stocks []panwatch.Stock, symbol string) []panwatch.Stock {
	var out []panwatch.Stock
	for _, s := range stocks {
		if strings.EqualFold(s.Symbol, symbol) {
			out = append(out, s)
		}
	}
	return out
}
