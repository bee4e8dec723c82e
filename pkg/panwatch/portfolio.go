package panwatch

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"
)

// PositionView is a position joined with its stock.
type PositionView struct {
	PositionID     int64        `json:"position_id"`
	StockID        int64        `json:"stock_id"`
	Symbol         string       `json:"symbol"`
	Name           string       `json:"name"`
	Market         string       `json:"market"`
	CostPrice      Amount       `json:"cost_price"`
	Quantity       int64        `json:"quantity"`
	InvestedAmount *Amount      `json:"invested_amount,omitempty"`
	TradingStyle   TradingStyle `json:"trading_style"`
}

// AccountView is an enabled account with the positions in scope.
type AccountView struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	AvailableFunds Amount         `json:"available_funds"`
	Positions      []PositionView `json:"positions"`
}

// PortfolioView is the per-run aggregation of accounts. It is never persisted.
type PortfolioView struct {
	Accounts []AccountView `json:"accounts"`
}

// HeldPosition is a position tagged with the account holding it.
type HeldPosition struct {
	AccountID   int64  `json:"account_id"`
	AccountName string `json:"account_name"`
	PositionView
}

// PositionsForSymbol returns every position in symbol across accounts, in account order.
func (v PortfolioView) PositionsForSymbol(symbol string) []HeldPosition {
	symbol = normalizeSymbol(symbol)
	var out []HeldPosition
	for _, acc := range v.Accounts {
		for _, p := range acc.Positions {
			if strings.EqualFold(p.Symbol, symbol) {
				out = append(out, HeldPosition{AccountID: acc.ID, AccountName: acc.Name, PositionView: p})
			}
		}
	}
	return out
}

// TotalAvailableFunds sums available funds over all accounts in the view.
func (v PortfolioView) TotalAvailableFunds() Amount {
	total := decimal.Zero
	for _, acc := range v.Accounts {
		total = total.Add(acc.AvailableFunds.Decimal)
	}
	return Amount{total}
}

// PositionCount returns the number of positions in the view.
func (v PortfolioView) PositionCount() int {
	n := 0
	for _, acc := range v.Accounts {
		n += len(acc.Positions)
	}
	return n
}

// WatchlistForAgent returns the enabled stocks associated with agentName, in
// association order.
func (c *Core) WatchlistForAgent(ctx context.Context, agentName string) ([]Stock, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.id, s.symbol, s.name, s.market, s.enabled
		FROM stock_agents sa JOIN stocks s ON s.id = sa.stock_id
		WHERE sa.agent_name = ? AND s.enabled = 1
		ORDER BY sa.id
	`, agentName)
	if err != nil {
		return nil, dbErr("load watchlist", err)
	}
	defer rows.Close()
	var stocks []Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, dbErr("scan watchlist", err)
		}
		stocks = append(stocks, s)
	}
	return stocks, dbErr("load watchlist", rows.Err())
}

// PortfolioForAgent builds a view over every enabled account, holding only
// positions in enabled stocks on agentName's watchlist.
func (c *Core) PortfolioForAgent(ctx context.Context, agentName string) (PortfolioView, error) {
	return c.buildPortfolio(ctx, "p.stock_id IN (SELECT stock_id FROM stock_agents WHERE agent_name = ?)", agentName)
}

// PortfolioForStock builds the same view restricted to one stock.
func (c *Core) PortfolioForStock(ctx context.Context, stockID int64) (PortfolioView, error) {
	return c.buildPortfolio(ctx, "p.stock_id = ?", stockID)
}

func (c *Core) buildPortfolio(ctx context.Context, scope string, args ...any) (PortfolioView, error) {
	accounts, err := c.ListAccounts(ctx, true)
	if err != nil {
		return PortfolioView{}, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT p.id, p.account_id, p.stock_id, s.symbol, s.name, s.market, p.cost_price, p.quantity, p.invested_amount, p.trading_style
		FROM positions p
		JOIN stocks s ON s.id = p.stock_id
		JOIN accounts a ON a.id = p.account_id
		WHERE a.enabled = 1 AND s.enabled = 1 AND `+scope+`
		ORDER BY p.account_id, p.id
	`, args...)
	if err != nil {
		return PortfolioView{}, dbErr("load positions", err)
	}
	defer rows.Close()

	byAccount := map[int64][]PositionView{}
	for rows.Next() {
		var pv PositionView
		var accountID int64
		var invested sql.NullFloat64
		var style string
		if err := rows.Scan(&pv.PositionID, &accountID, &pv.StockID, &pv.Symbol, &pv.Name, &pv.Market,
			&pv.CostPrice, &pv.Quantity, &invested, &style); err != nil {
			return PortfolioView{}, dbErr("scan position", err)
		}
		pv.Market = normalizeMarket(pv.Market)
		pv.InvestedAmount = scanPositionInvested(invested)
		pv.TradingStyle = normalizeStyle(style)
		byAccount[accountID] = append(byAccount[accountID], pv)
	}
	if err := rows.Err(); err != nil {
		return PortfolioView{}, dbErr("load positions", err)
	}

	view := PortfolioView{Accounts: make([]AccountView, 0, len(accounts))}
	for _, acc := range accounts {
		positions := byAccount[acc.ID]
		if positions == nil {
			positions = []PositionView{}
		}
		view.Accounts = append(view.Accounts, AccountView{
			ID:             acc.ID,
			Name:           acc.Name,
			AvailableFunds: acc.AvailableFunds,
			Positions:      positions,
		})
	}
	return view, nil
}
