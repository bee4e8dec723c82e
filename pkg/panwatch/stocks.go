package panwatch

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Market codes understood by the store. Anything else is treated as CN.
const (
	MarketCN = "CN"
	MarketHK = "HK"
	MarketUS = "US"
)

func normalizeMarket(m string) string {
	switch strings.ToUpper(strings.TrimSpace(m)) {
	case MarketHK:
		return MarketHK
	case MarketUS:
		return MarketUS
	default:
		return MarketCN
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func scanStock(row rowScanner) (Stock, error) {
	var s Stock
	var enabled int
	if err := row.Scan(&s.ID, &s.Symbol, &s.Name, &s.Market, &enabled); err != nil {
		return s, err
	}
	s.Market = normalizeMarket(s.Market)
	s.Enabled = enabled == 1
	return s, nil
}

// AddStock inserts a stock and returns its id.
func (c *Core) AddStock(ctx context.Context, s Stock) (int64, error) {
	symbol := normalizeSymbol(s.Symbol)
	if symbol == "" {
		return 0, NewError(ErrCodeInvalidInput, "symbol is required")
	}
	res, err := c.db.ExecContext(ctx,
		"INSERT INTO stocks (symbol, name, market, enabled) VALUES (?, ?, ?, ?)",
		symbol, strings.TrimSpace(s.Name), normalizeMarket(s.Market), boolToInt(s.Enabled),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, WrapError(ErrCodeDuplicate, "stock already exists: "+symbol, err)
		}
		return 0, dbErr("insert stock", err)
	}
	return res.LastInsertId()
}

// GetStock loads a stock by id.
func (c *Core) GetStock(ctx context.Context, id int64) (*Stock, error) {
	row := c.db.QueryRowContext(ctx, "SELECT id, symbol, name, market, enabled FROM stocks WHERE id = ?", id)
	s, err := scanStock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrCodeNotFound, "stock not found")
	}
	if err != nil {
		return nil, dbErr("get stock", err)
	}
	return &s, nil
}

// ListStocks returns every stock ordered by id.
func (c *Core) ListStocks(ctx context.Context) ([]Stock, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, symbol, name, market, enabled FROM stocks ORDER BY id")
	if err != nil {
		return nil, dbErr("list stocks", err)
	}
	defer rows.Close()
	var stocks []Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, dbErr("scan stock", err)
		}
		stocks = append(stocks, s)
	}
	return stocks, dbErr("list stocks", rows.Err())
}

// SetStockEnabled toggles a stock.
func (c *Core) SetStockEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := c.db.ExecContext(ctx, "UPDATE stocks SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return dbErr("update stock", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrCodeNotFound, "stock not found")
	}
	return nil
}

// SeedStocks inserts samples only when the stocks table is empty.
// It reports whether anything was inserted.
func (c *Core) SeedStocks(ctx context.Context, samples []Stock) (bool, error) {
	seeded := false
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM stocks").Scan(&count); err != nil {
			return dbErr("count stocks", err)
		}
		if count > 0 {
			return nil
		}
		for _, s := range samples {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO stocks (symbol, name, market, enabled) VALUES (?, ?, ?, ?)",
				normalizeSymbol(s.Symbol), s.Name, normalizeMarket(s.Market), boolToInt(s.Enabled),
			); err != nil {
				return dbErr("seed stock", err)
			}
		}
		seeded = len(samples) > 0
		return nil
	})
	return seeded, err
}

// AddStockAgent associates a stock with an agent and returns the association id.
func (c *Core) AddStockAgent(ctx context.Context, sa StockAgent) (int64, error) {
	if sa.StockID <= 0 || strings.TrimSpace(sa.AgentName) == "" {
		return 0, NewError(ErrCodeInvalidInput, "stock id and agent name are required")
	}
	res, err := c.db.ExecContext(ctx,
		"INSERT INTO stock_agents (stock_id, agent_name, ai_model_id, notify_channel_ids) VALUES (?, ?, ?, ?)",
		sa.StockID, sa.AgentName, nullInt64(sa.AIModelID), encodeIDs(sa.NotifyChannelIDs),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, WrapError(ErrCodeDuplicate, "stock already associated with "+sa.AgentName, err)
		}
		return 0, dbErr("insert stock agent", err)
	}
	return res.LastInsertId()
}

// GetStockAgent loads a watchlist association by id.
func (c *Core) GetStockAgent(ctx context.Context, id int64) (*StockAgent, error) {
	return c.findStockAgent(ctx, "id = ?", id)
}

// FindStockAgent loads the association between a stock and an agent.
func (c *Core) FindStockAgent(ctx context.Context, stockID int64, agentName string) (*StockAgent, error) {
	return c.findStockAgent(ctx, "stock_id = ? AND agent_name = ?", stockID, agentName)
}

func (c *Core) findStockAgent(ctx context.Context, where string, args ...any) (*StockAgent, error) {
	var sa StockAgent
	var modelID sql.NullInt64
	var channels sql.NullString
	err := c.db.QueryRowContext(ctx,
		"SELECT id, stock_id, agent_name, ai_model_id, notify_channel_ids FROM stock_agents WHERE "+where, args...,
	).Scan(&sa.ID, &sa.StockID, &sa.AgentName, &modelID, &channels)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrCodeNotFound, "watchlist association not found")
	}
	if err != nil {
		return nil, dbErr("get stock agent", err)
	}
	sa.AIModelID = int64Ptr(modelID)
	sa.NotifyChannelIDs = decodeIDs(channels)
	return &sa, nil
}
