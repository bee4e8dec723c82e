package agent

import (
	"fmt"
	"log/slog"
	"time"

	"panwatch/internal/metrics"
	"panwatch/pkg/panwatch"
)

// Kind is the closed set of agent variants.
type Kind int

const (
	KindDailyReport Kind = iota + 1
	KindIntradayMonitor
	KindNewsDigest
	KindPremarketOutlook
	KindChartAnalyst
)

type kindInfo struct {
	name        string
	displayName string
	description string
	schedule    string
	mode        panwatch.ExecutionMode
	enabled     bool
	config      map[string]any
	build       func(Deps, map[string]any) Agent
}

var kinds = map[Kind]kindInfo{
	KindDailyReport: {
		name:        "daily_report",
		displayName: "盘后日报",
		description: "每日收盘后生成自选股日报，包含大盘概览、个股分析和明日关注",
		schedule:    "30 15 * * 1-5",
		mode:        panwatch.ModeBatch,
		enabled:     true,
		build:       newDailyReport,
	},
	KindIntradayMonitor: {
		name:        "intraday_monitor",
		displayName: "盘中监测",
		description: "交易时段实时监控，AI 智能判断是否有值得关注的信号",
		schedule:    "*/5 9-15 * * 1-5",
		mode:        panwatch.ModeSingle,
		config: map[string]any{
			"price_alert_threshold": 3.0,
			"throttle_minutes":      30,
		},
		build: newIntradayMonitor,
	},
	KindNewsDigest: {
		name:        "news_digest",
		displayName: "新闻速递",
		description: "定时抓取与持仓相关的新闻资讯并推送摘要",
		schedule:    "0 9-18/2 * * 1-5",
		mode:        panwatch.ModeBatch,
		build:       newNewsDigest,
	},
	KindPremarketOutlook: {
		name:        "premarket_outlook",
		displayName: "盘前分析",
		description: "开盘前综合昨日分析和隔夜信息，展望今日走势",
		schedule:    "0 9 * * 1-5",
		mode:        panwatch.ModeBatch,
		build:       newPremarketOutlook,
	},
	KindChartAnalyst: {
		name:        "chart_analyst",
		displayName: "技术分析",
		description: "截取 K 线图并结合行情进行技术分析",
		schedule:    "0 15 * * 1-5",
		mode:        panwatch.ModeSingle,
		build:       newChartAnalyst,
	},
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kinds))
	for k, info := range kinds {
		m[info.name] = k
	}
	return m
}()

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DisplayName is the built-in human-readable name.
func (k Kind) DisplayName() string { return kinds[k].displayName }

// ParseKind looks up a variant by agent name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Kinds lists every variant in declaration order.
func Kinds() []Kind {
	return []Kind{KindDailyReport, KindIntradayMonitor, KindNewsDigest, KindPremarketOutlook, KindChartAnalyst}
}

// Definitions returns the seed definitions of all built-in agents.
func Definitions() []panwatch.AgentConfig {
	out := make([]panwatch.AgentConfig, 0, len(kinds))
	for _, k := range Kinds() {
		info := kinds[k]
		cfg := map[string]any{}
		for key, v := range info.config {
			cfg[key] = v
		}
		out = append(out, panwatch.AgentConfig{
			Name:          info.name,
			DisplayName:   info.displayName,
			Description:   info.description,
			Schedule:      info.schedule,
			ExecutionMode: info.mode,
			Enabled:       info.enabled,
			Config:        cfg,
		})
	}
	return out
}

// Deps are the collaborators shared by all variants. Nil sources make the
// variants that need them fail collection.
type Deps struct {
	Quotes   QuoteSource
	Gate     TradingGate
	History  HistoryReader
	Throttle Throttle
	News     NewsSource
	Charts   ChartSource
	Clock    func() time.Time
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (d Deps) now() time.Time {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := d.Location
	if loc == nil {
		loc = panwatch.ShanghaiLocation()
	}
	return clock().In(loc)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// New builds the variant for k configured by cfg (the agent's config map).
func New(k Kind, deps Deps, cfg map[string]any) (Agent, error) {
	info, ok := kinds[k]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %d", int(k))
	}
	return info.build(deps, cfg), nil
}

func configFloat(cfg map[string]any, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func configInt(cfg map[string]any, key string, fallback int) int {
	v := configFloat(cfg, key, float64(fallback))
	return int(v)
}
