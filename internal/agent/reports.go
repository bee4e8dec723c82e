package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DailyReport writes the after-close summary of the whole watchlist.
type DailyReport struct {
	deps Deps
}

func newDailyReport(deps Deps, _ map[string]any) Agent { return &DailyReport{deps: deps} }

func (r *DailyReport) Kind() Kind { return KindDailyReport }

func (r *DailyReport) Collect(ctx context.Context, c *Context) (*Data, error) {
	now := r.deps.now()
	if len(c.Watchlist) == 0 {
		return &Data{Timestamp: now}, nil
	}
	quotes, err := collectQuotes(ctx, r.deps.Quotes, c.Watchlist)
	if err != nil {
		return nil, err
	}
	return &Data{Quotes: quotes, Timestamp: now}, nil
}

func (r *DailyReport) Analyze(ctx context.Context, c *Context, d *Data) (*Result, error) {
	name := displayName(c, r.Kind())
	date := d.Timestamp.Format("2006-01-02")
	if d.Empty() {
		return &Result{Title: fmt.Sprintf("【%s】%s 无数据", name, date), Content: "未获取到行情数据", Skipped: true}, nil
	}
	reply, err := chat(ctx, c, dailyReportSystemPrompt, watchlistPrompt(c, d, "请撰写今日盘后日报。"))
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("【%s】%s", name, date),
		Content:     withFooter(reply, c.ModelLabel),
		RawData:     map[string]any{"symbols": quotedSymbols(c, d)},
		ShouldAlert: true,
	}, nil
}

func (r *DailyReport) ShouldNotify(_ context.Context, _ *Context, res *Result) bool {
	return !res.Skipped && strings.TrimSpace(res.Content) != ""
}

// PremarketOutlook combines yesterday's report with the latest quotes.
type PremarketOutlook struct {
	deps Deps
}

func newPremarketOutlook(deps Deps, _ map[string]any) Agent { return &PremarketOutlook{deps: deps} }

func (p *PremarketOutlook) Kind() Kind { return KindPremarketOutlook }

func (p *PremarketOutlook) Collect(ctx context.Context, c *Context) (*Data, error) {
	now := p.deps.now()
	d := &Data{Timestamp: now, History: map[string]string{}}
	if len(c.Watchlist) == 0 {
		return d, nil
	}
	if p.deps.History != nil {
		rec, err := p.deps.History.LatestAnalysis(ctx, KindDailyReport.String(), batchSymbol, now.Format("2006-01-02"), false)
		if err != nil {
			p.deps.logger().Warn("load daily analysis failed", "err", err)
		} else if rec != nil {
			d.History[historyDaily] = rec.Content
		}
	}
	quotes, err := collectQuotes(ctx, p.deps.Quotes, c.Watchlist)
	if err != nil {
		if d.History[historyDaily] == "" {
			return nil, err
		}
		p.deps.logger().Warn("premarket quotes unavailable, continuing with history", "err", err)
	}
	d.Quotes = quotes
	return d, nil
}

func (p *PremarketOutlook) Analyze(ctx context.Context, c *Context, d *Data) (*Result, error) {
	name := displayName(c, p.Kind())
	date := d.Timestamp.Format("2006-01-02")
	daily := d.History[historyDaily]
	if d.Empty() && daily == "" {
		return &Result{Title: fmt.Sprintf("【%s】%s 无数据", name, date), Content: "无可用的行情和历史分析", Skipped: true}, nil
	}
	var tail strings.Builder
	if daily != "" {
		fmt.Fprintf(&tail, "\n## 昨日盘后分析\n%s\n", truncateRunes(daily, 1500))
	}
	tail.WriteString("\n请给出今日盘前展望。")
	reply, err := chat(ctx, c, premarketSystemPrompt, watchlistPrompt(c, d, tail.String()))
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("【%s】%s", name, date),
		Content:     withFooter(reply, c.ModelLabel),
		RawData:     map[string]any{"has_daily_analysis": daily != ""},
		ShouldAlert: true,
	}, nil
}

func (p *PremarketOutlook) ShouldNotify(_ context.Context, _ *Context, res *Result) bool {
	return !res.Skipped && strings.TrimSpace(res.Content) != ""
}

func chat(ctx context.Context, c *Context, system, user string) (string, error) {
	if c.AI == nil {
		return "", errors.New("ai client not configured")
	}
	return c.AI.Chat(ctx, system, user)
}

// watchlistPrompt renders every quoted stock with its positions, then the
// account funds, then tail.
func watchlistPrompt(c *Context, d *Data, tail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 时间：%s\n", d.Timestamp.Format("2006-01-02 15:04"))
	for _, s := range c.Watchlist {
		q, ok := d.Quotes[s.Symbol]
		if !ok {
			fmt.Fprintf(&b, "\n## %s（%s）\n- 行情获取失败\n", s.Name, s.Symbol)
			continue
		}
		fmt.Fprintf(&b, "\n## %s（%s）\n", s.Name, s.Symbol)
		writeQuote(&b, q)
		writePositions(&b, c.Portfolio.PositionsForSymbol(s.Symbol), q.Price)
	}
	if len(c.Portfolio.Accounts) > 0 {
		fmt.Fprintf(&b, "\n## 账户可用资金合计：%s\n", c.Portfolio.TotalAvailableFunds().StringFixed(2))
	}
	b.WriteString(tail)
	return b.String()
}

func quotedSymbols(c *Context, d *Data) []string {
	var out []string
	for _, s := range c.Watchlist {
		if _, ok := d.Quotes[s.Symbol]; ok {
			out = append(out, s.Symbol)
		}
	}
	return out
}
