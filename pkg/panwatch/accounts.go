package panwatch

import (
	"context"
	"database/sql"
	"strings"
)

// AddAccount inserts an account and returns its id.
func (c *Core) AddAccount(ctx context.Context, a Account) (int64, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return 0, NewError(ErrCodeInvalidInput, "account name is required")
	}
	if a.AvailableFunds.IsNegative() {
		return 0, NewError(ErrCodeValidation, "available funds cannot be negative")
	}
	res, err := c.db.ExecContext(ctx,
		"INSERT INTO accounts (name, available_funds, enabled) VALUES (?, ?, ?)",
		name, a.AvailableFunds, boolToInt(a.Enabled),
	)
	if err != nil {
		return 0, dbErr("insert account", err)
	}
	return res.LastInsertId()
}

// SetAccountEnabled toggles an account.
func (c *Core) SetAccountEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := c.db.ExecContext(ctx, "UPDATE accounts SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return dbErr("update account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrCodeNotFound, "account not found")
	}
	return nil
}

// ListAccounts returns accounts ordered by id, optionally only enabled ones.
func (c *Core) ListAccounts(ctx context.Context, enabledOnly bool) ([]Account, error) {
	query := "SELECT id, name, available_funds, enabled FROM accounts"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	rows, err := c.db.QueryContext(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, dbErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var enabled int
		if err := rows.Scan(&a.ID, &a.Name, &a.AvailableFunds, &enabled); err != nil {
			return nil, dbErr("scan account", err)
		}
		a.Enabled = enabled == 1
		accounts = append(accounts, a)
	}
	return accounts, dbErr("list accounts", rows.Err())
}

// AddPosition inserts a position. A second position for the same account and
// stock is rejected as a duplicate.
func (c *Core) AddPosition(ctx context.Context, p Position) (int64, error) {
	if p.AccountID <= 0 || p.StockID <= 0 {
		return 0, NewError(ErrCodeInvalidInput, "account id and stock id are required")
	}
	if p.Quantity <= 0 {
		return 0, NewError(ErrCodeValidation, "quantity must be positive")
	}
	if !p.CostPrice.IsPositive() {
		return 0, NewError(ErrCodeValidation, "cost price must be positive")
	}
	var invested any
	if p.InvestedAmount != nil {
		invested = *p.InvestedAmount
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO positions (account_id, stock_id, cost_price, quantity, invested_amount, trading_style)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.AccountID, p.StockID, p.CostPrice, p.Quantity, invested, string(normalizeStyle(string(p.TradingStyle))))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, WrapError(ErrCodeDuplicate, "position already exists for account and stock", err)
		}
		return 0, dbErr("insert position", err)
	}
	return res.LastInsertId()
}

// DeletePosition removes a position by id.
func (c *Core) DeletePosition(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM positions WHERE id = ?", id)
	if err != nil {
		return dbErr("delete position", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrCodeNotFound, "position not found")
	}
	return nil
}

func scanPositionInvested(v sql.NullFloat64) *Amount {
	if !v.Valid {
		return nil
	}
	a, _ := scanNullAmount(v.Float64)
	return a
}
