package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"panwatch/internal/agent"
	"panwatch/pkg/panwatch"
)

// StockTriggerResult is the outcome of running one agent for one stock.
type StockTriggerResult struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ShouldAlert bool   `json:"should_alert"`
	Notified    bool   `json:"notified"`
}

// TriggerForStock runs agent name for a single stock regardless of its
// watchlist. associationID selects override configuration; when zero, the
// stock's own association with the agent is used if one exists. bypass skips
// the notification throttle.
func (s *Service) TriggerForStock(ctx context.Context, name string, stockID, associationID int64, bypass bool) (*StockTriggerResult, error) {
	cfg, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	kind, _ := agent.ParseKind(name)
	stock, err := s.core.GetStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	if associationID == 0 {
		if sa, err := s.core.FindStockAgent(ctx, stockID, name); err == nil {
			associationID = sa.ID
		} else if !panwatch.IsNotFound(err) {
			s.logger.Warn("lookup watchlist association failed", "agent", name, "stock_id", stockID, "err", err)
		}
	}
	portfolio, err := s.core.PortfolioForStock(ctx, stockID)
	if err != nil {
		return nil, err
	}

	var out *StockTriggerResult
	err = s.scheduler.Do(ctx, func(ctx context.Context) error {
		watchlist := []panwatch.Stock{*stock}
		res := s.resolver.Resolve(ctx, Scope{AgentName: name, AssociationID: associationID})
		s.logTrigger(name, watchlist, res)
		c := s.buildContext(ctx, cfg, watchlist, portfolio, res)
		c.BypassThrottle = bypass

		a, err := agent.New(kind, s.deps, cfg.Config)
		if err != nil {
			return err
		}
		r, err := s.pipeline.RunForStock(ctx, a, c, stock.Symbol)
		if err != nil {
			return err
		}
		out = &StockTriggerResult{Title: r.Title, Content: r.Content, ShouldAlert: r.ShouldAlert, Notified: r.Notified}
		return nil
	})
	return out, err
}

// ScanAlert is one symbol moving past the intraday threshold.
type ScanAlert struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	AlertType    string   `json:"alert_type"`
	CurrentPrice float64  `json:"current_price"`
	ChangePct    float64  `json:"change_pct"`
	Message      string   `json:"message"`
	HasPosition  bool     `json:"has_position"`
	CostPrice    *float64 `json:"cost_price"`
	PnLPct       *float64 `json:"pnl_pct"`
	TradingStyle string   `json:"trading_style,omitempty"`
	Suggestion   string   `json:"suggestion,omitempty"`
}

// ScanResult is the intraday scan report.
type ScanResult struct {
	Alerts       []ScanAlert `json:"alerts"`
	Message      string      `json:"message,omitempty"`
	ScannedCount int         `json:"scanned_count"`
	AlertCount   int         `json:"alert_count"`
	IsTrading    bool        `json:"is_trading"`
	HasWatchlist bool        `json:"has_watchlist"`
}

// ScanIntraday checks the intraday monitor's watchlist for large moves. With
// analyze set, held symbols also get a one-line AI suggestion.
func (s *Service) ScanIntraday(ctx context.Context, analyze bool) (*ScanResult, error) {
	name := agent.KindIntradayMonitor.String()
	watchlist, err := s.core.WatchlistForAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(watchlist) == 0 {
		return &ScanResult{Alerts: []ScanAlert{}, Message: "请先为股票启用「盘中监测」Agent"}, nil
	}
	out := &ScanResult{Alerts: []ScanAlert{}, ScannedCount: len(watchlist), HasWatchlist: true}
	if s.deps.Gate != nil && !s.deps.Gate.AnyTrading(s.now()) {
		out.Message = "当前非交易时段"
		return out, nil
	}
	out.IsTrading = true

	cfg, err := s.core.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	a, err := agent.New(agent.KindIntradayMonitor, s.deps, cfg.Config)
	if err != nil {
		return nil, err
	}
	monitor := a.(*agent.IntradayMonitor)
	portfolio, err := s.core.PortfolioForAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := monitor.Collect(ctx, &agent.Context{AgentName: name, Watchlist: watchlist})
	if err != nil {
		return nil, err
	}

	threshold := monitor.AlertThreshold()
	for _, stock := range watchlist {
		q, ok := data.Quotes[stock.Symbol]
		if !ok || math.Abs(q.ChangePct) < threshold {
			continue
		}
		alert := ScanAlert{
			Symbol:       stock.Symbol,
			Name:         q.Name,
			AlertType:    "急跌",
			CurrentPrice: q.Price,
			ChangePct:    q.ChangePct,
		}
		if q.ChangePct > 0 {
			alert.AlertType = "急涨"
		}
		alert.Message = fmt.Sprintf("%s %s %+.2f%%", q.Name, alert.AlertType, q.ChangePct)
		if held := portfolio.PositionsForSymbol(stock.Symbol); len(held) > 0 {
			alert.HasPosition = true
			cost := held[0].CostPrice.Float()
			alert.CostPrice = &cost
			alert.TradingStyle = string(held[0].TradingStyle)
			if cost > 0 && q.Price > 0 {
				pnl := (q.Price - cost) / cost * 100
				alert.PnLPct = &pnl
			}
		}
		out.Alerts = append(out.Alerts, alert)
	}
	out.AlertCount = len(out.Alerts)

	if analyze && out.AlertCount > 0 {
		s.suggest(ctx, cfg, watchlist, portfolio, monitor, data, out.Alerts)
	}
	return out, nil
}

// suggest fills one-line AI suggestions for held alerts. Failures are
// reported in the suggestion text.
func (s *Service) suggest(ctx context.Context, cfg *panwatch.AgentConfig, watchlist []panwatch.Stock, portfolio panwatch.PortfolioView, monitor *agent.IntradayMonitor, data *agent.Data, alerts []ScanAlert) {
	res := s.resolver.Resolve(ctx, Scope{AgentName: cfg.Name})
	c := s.buildContext(ctx, cfg, watchlist, portfolio, res)
	if c.AI == nil {
		return
	}
	bySymbol := map[string]panwatch.Stock{}
	for _, st := range watchlist {
		bySymbol[st.Symbol] = st
	}
	for i := range alerts {
		if !alerts[i].HasPosition {
			continue
		}
		reply, err := c.AI.Chat(ctx, monitor.SystemPrompt(), monitor.Prompt(c, data, bySymbol[alerts[i].Symbol]))
		if err != nil {
			s.logger.Error("intraday suggestion failed", "symbol", alerts[i].Symbol, "err", err)
			alerts[i].Suggestion = "分析失败: " + err.Error()
			continue
		}
		reply = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(reply), agent.NoAlertMarker))
		alerts[i].Suggestion = truncate(reply, 100)
	}
}

func (s *Service) now() time.Time {
	return s.deps.Clock()
}
