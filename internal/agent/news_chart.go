package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NewsDigest summarizes recent news for the watchlist.
type NewsDigest struct {
	deps     Deps
	lookback time.Duration
	maxItems int
}

func newNewsDigest(deps Deps, cfg map[string]any) Agent {
	return &NewsDigest{
		deps:     deps,
		lookback: time.Duration(configInt(cfg, "lookback_hours", 24)) * time.Hour,
		maxItems: configInt(cfg, "max_items", 30),
	}
}

func (n *NewsDigest) Kind() Kind { return KindNewsDigest }

func (n *NewsDigest) Collect(ctx context.Context, c *Context) (*Data, error) {
	now := n.deps.now()
	if len(c.Watchlist) == 0 {
		return &Data{Timestamp: now}, nil
	}
	if n.deps.News == nil {
		return nil, errors.New("news source not configured")
	}
	items, err := n.deps.News.News(ctx, c.Watchlist, now.Add(-n.lookback))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })
	if n.maxItems > 0 && len(items) > n.maxItems {
		items = items[:n.maxItems]
	}
	return &Data{News: items, Timestamp: now}, nil
}

func (n *NewsDigest) Analyze(ctx context.Context, c *Context, d *Data) (*Result, error) {
	name := displayName(c, n.Kind())
	if len(d.News) == 0 {
		return &Result{Title: fmt.Sprintf("【%s】暂无新闻", name), Content: "自选股暂无新的相关新闻", Skipped: true}, nil
	}
	var b strings.Builder
	names := map[string]string{}
	for _, s := range c.Watchlist {
		names[s.Symbol] = s.Name
	}
	for _, item := range d.News {
		fmt.Fprintf(&b, "- [%s %s] %s（%s）", names[item.Symbol], item.Symbol, item.Title, item.PublishedAt.Format("01-02 15:04"))
		if item.Summary != "" {
			fmt.Fprintf(&b, "：%s", truncateRunes(item.Summary, 120))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n请整理成新闻摘要。")
	reply, err := chat(ctx, c, newsDigestSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:       fmt.Sprintf("【%s】%d 条新闻", name, len(d.News)),
		Content:     withFooter(reply, c.ModelLabel),
		RawData:     map[string]any{"news_count": len(d.News)},
		ShouldAlert: true,
	}, nil
}

func (n *NewsDigest) ShouldNotify(_ context.Context, _ *Context, res *Result) bool {
	return !res.Skipped
}

// ChartAnalyst reviews one symbol's chart and quote and attaches the chart
// image to the notification.
type ChartAnalyst struct {
	deps Deps
}

func newChartAnalyst(deps Deps, _ map[string]any) Agent { return &ChartAnalyst{deps: deps} }

func (a *ChartAnalyst) Kind() Kind { return KindChartAnalyst }

func (a *ChartAnalyst) Collect(ctx context.Context, c *Context) (*Data, error) {
	now := a.deps.now()
	d := &Data{Timestamp: now, Charts: map[string][]byte{}}
	if len(c.Watchlist) == 0 {
		return d, nil
	}
	quotes, quoteErr := collectQuotes(ctx, a.deps.Quotes, c.Watchlist)
	if quoteErr != nil {
		a.deps.logger().Warn("chart analyst quotes unavailable", "err", quoteErr)
	}
	d.Quotes = quotes

	var chartErr error
	if a.deps.Charts == nil {
		chartErr = errors.New("chart source not configured")
	} else {
		for _, s := range c.Watchlist {
			img, err := a.deps.Charts.Chart(ctx, s)
			if err != nil {
				a.deps.logger().Warn("chart capture failed", "symbol", s.Symbol, "err", err)
				chartErr = err
				continue
			}
			d.Charts[s.Symbol] = img
		}
	}
	if d.Empty() {
		if err := errors.Join(quoteErr, chartErr); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (a *ChartAnalyst) Analyze(ctx context.Context, c *Context, d *Data) (*Result, error) {
	name := displayName(c, a.Kind())
	if len(c.Watchlist) == 0 || d.Empty() {
		return &Result{Title: fmt.Sprintf("【%s】无数据", name), Content: "未获取到行情或 K 线图", Skipped: true}, nil
	}
	stock := c.Watchlist[0]
	img, hasChart := d.Charts[stock.Symbol]

	var b strings.Builder
	fmt.Fprintf(&b, "## 时间：%s\n\n## 股票行情\n", d.Timestamp.Format("2006-01-02 15:04"))
	q, hasQuote := d.Quotes[stock.Symbol]
	if hasQuote {
		writeQuote(&b, q)
	} else {
		fmt.Fprintf(&b, "- 股票：%s（%s）\n- 行情获取失败\n", stock.Name, stock.Symbol)
	}
	writePositions(&b, c.Portfolio.PositionsForSymbol(stock.Symbol), q.Price)
	if hasChart {
		fmt.Fprintf(&b, "\n已截取日 K 线图（%d 字节），将随分析一并推送。\n", len(img))
	}
	b.WriteString("\n请给出技术面分析结论。")

	reply, err := chat(ctx, c, chartSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}
	res := &Result{
		Symbol:      stock.Symbol,
		Title:       fmt.Sprintf("【%s】%s(%s)", name, stock.Name, stock.Symbol),
		Content:     withFooter(reply, c.ModelLabel),
		RawData:     map[string]any{"has_chart": hasChart},
		ShouldAlert: true,
	}
	if hasChart {
		res.Images = [][]byte{img}
	}
	return res, nil
}

func (a *ChartAnalyst) ShouldNotify(_ context.Context, _ *Context, res *Result) bool {
	return !res.Skipped
}
