package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"panwatch/internal/market"
	"panwatch/pkg/panwatch"
)

// NoAlertMarker prefixes an AI reply that judged the situation not worth an alert.
const NoAlertMarker = "[无需提醒]"

const (
	intradaySystemPrompt = `你是一名盘中盯盘助手。根据实时行情、持仓和历史分析判断是否存在值得提醒用户的信号。
如果没有值得提醒的信号，回复必须以 "[无需提醒]" 开头，并用一句话说明原因。
如果需要提醒，直接给出简洁的信号描述和操作建议（不超过 150 字）。`

	dailyReportSystemPrompt = `你是一名专业的股票分析师。根据自选股今日行情和用户持仓，撰写盘后日报：
大盘与个股表现概览、持仓盈亏点评、明日关注要点。语言简洁，使用 Markdown。`

	premarketSystemPrompt = `你是一名股票分析师。结合昨日盘后分析与最新行情，给出今日盘前展望：
可能的走势、需要关注的价位和持仓应对策略。语言简洁。`

	newsDigestSystemPrompt = `你是一名财经新闻编辑。为用户的自选股整理新闻摘要，按股票归类，
指出可能影响股价的要点。没有实质影响的新闻可以省略。`

	chartSystemPrompt = `你是一名技术分析师。根据行情数据和 K 线图信息，分析趋势、支撑压力位和量价关系，
给出简短的技术面结论。`
)

func writeQuote(b *strings.Builder, q market.Quote) {
	fmt.Fprintf(b, "- 股票：%s（%s）\n", q.Name, q.Symbol)
	fmt.Fprintf(b, "- 现价：%.2f\n", q.Price)
	fmt.Fprintf(b, "- 涨跌幅：%+.2f%%\n", q.ChangePct)
	fmt.Fprintf(b, "- 涨跌额：%+.2f\n", q.Change)
	fmt.Fprintf(b, "- 今开：%.2f\n", q.Open)
	fmt.Fprintf(b, "- 最高：%.2f\n", q.High)
	fmt.Fprintf(b, "- 最低：%.2f\n", q.Low)
	fmt.Fprintf(b, "- 昨收：%.2f\n", q.PrevClose)
	if q.Volume > 0 {
		fmt.Fprintf(b, "- 成交量：%.0f 手\n", q.Volume)
	}
	if q.Turnover > 0 {
		fmt.Fprintf(b, "- 成交额：%.0f 万\n", q.Turnover/10000)
	}
}

func writePositions(b *strings.Builder, positions []panwatch.HeldPosition, price float64) {
	if len(positions) == 0 {
		b.WriteString("\n## 未持仓（仅关注）\n")
		return
	}
	fmt.Fprintf(b, "\n## 持仓情况（共 %d 个账户）\n", len(positions))
	for i, p := range positions {
		cost := p.CostPrice.Float()
		fmt.Fprintf(b, "\n### 持仓 %d：%s\n", i+1, p.AccountName)
		fmt.Fprintf(b, "- 交易风格：%s\n", p.TradingStyle.Label())
		fmt.Fprintf(b, "- 成本价：%.2f\n", cost)
		fmt.Fprintf(b, "- 持仓量：%d 股\n", p.Quantity)
		if price > 0 {
			fmt.Fprintf(b, "- 持仓市值：%.0f\n", price*float64(p.Quantity))
			fmt.Fprintf(b, "- 浮动盈亏：%+.1f%%\n", pnlPct(price, cost))
		}
	}
}

func pnlPct(price, cost float64) float64 {
	if cost <= 0 {
		return 0
	}
	return (price - cost) / cost * 100
}

// withFooter appends the model label to AI content.
func withFooter(content, label string) string {
	if label == "" {
		return content
	}
	return strings.TrimRight(content, " \n\t") + "\n\n---\nAI: " + label
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func displayName(c *Context, k Kind) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return k.DisplayName()
}

// collectQuotes fetches the watchlist's quotes. Failed markets are dropped;
// it errors only when every market failed.
func collectQuotes(ctx context.Context, src QuoteSource, stocks []panwatch.Stock) (map[string]market.Quote, error) {
	if src == nil {
		return nil, fmt.Errorf("quote source not configured")
	}
	batch := src.FetchAll(ctx, groupByMarket(stocks))
	if batch.AllFailed() {
		errs := make([]string, 0, len(batch.Failures))
		for code, err := range batch.Failures {
			errs = append(errs, fmt.Sprintf("%s: %v", code, err))
		}
		sort.Strings(errs)
		return nil, fmt.Errorf("all quote sources failed: %s", strings.Join(errs, "; "))
	}
	return batch.Quotes, nil
}
