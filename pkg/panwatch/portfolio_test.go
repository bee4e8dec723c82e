package panwatch

import (
	"context"
	"testing"
)

func TestPortfolioForAgentExcludesDisabledAccount(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	aapl := testStock(t, core, "AAPL", "US")
	testWatch(t, core, aapl, "intraday_monitor")
	active := testAccount(t, core, "A1", 5000)
	dormant := testAccount(t, core, "A2", 9000)
	testPosition(t, core, active, aapl, 100, 150)
	testPosition(t, core, dormant, aapl, 50, 140)
	assertNoError(t, core.SetAccountEnabled(ctx, dormant, false), "disable account")

	view, err := core.PortfolioForAgent(ctx, "intraday_monitor")
	assertNoError(t, err, "portfolio for agent")
	if len(view.Accounts) != 1 || view.Accounts[0].Name != "A1" {
		t.Fatalf("accounts = %+v, want only A1", view.Accounts)
	}
	held := view.PositionsForSymbol("aapl")
	if len(held) != 1 || held[0].AccountName != "A1" || held[0].Quantity != 100 {
		t.Fatalf("positions for AAPL = %+v", held)
	}
	if held[0].TradingStyle != StyleSwing {
		t.Fatalf("trading style = %q, want swing", held[0].TradingStyle)
	}
	assertFloatEquals(t, view.TotalAvailableFunds().Float(), 5000, "total funds")

	stockView, err := core.PortfolioForStock(ctx, aapl)
	assertNoError(t, err, "portfolio for stock")
	if n := len(stockView.PositionsForSymbol("AAPL")); n != 1 {
		t.Fatalf("stock view positions = %d, want 1", n)
	}
}

func TestPortfolioExcludesDisabledStock(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	moutai := testStock(t, core, "600519", "CN")
	byd := testStock(t, core, "002594", "CN")
	testWatch(t, core, moutai, "daily_report")
	testWatch(t, core, byd, "daily_report")
	acc := testAccount(t, core, "main", 1000)
	testPosition(t, core, acc, moutai, 10, 1500)
	testPosition(t, core, acc, byd, 200, 250)
	assertNoError(t, core.SetStockEnabled(ctx, byd, false), "disable stock")

	view, err := core.PortfolioForAgent(ctx, "daily_report")
	assertNoError(t, err, "portfolio for agent")
	if view.PositionCount() != 1 || view.Accounts[0].Positions[0].Symbol != "600519" {
		t.Fatalf("positions = %+v", view.Accounts[0].Positions)
	}

	stockView, err := core.PortfolioForStock(ctx, byd)
	assertNoError(t, err, "portfolio for disabled stock")
	if stockView.PositionCount() != 0 {
		t.Fatalf("disabled stock leaked into stock view: %+v", stockView)
	}

	watchlist, err := core.WatchlistForAgent(ctx, "daily_report")
	assertNoError(t, err, "watchlist")
	if len(watchlist) != 1 || watchlist[0].Symbol != "600519" {
		t.Fatalf("watchlist = %+v", watchlist)
	}
}

func TestPortfolioScopesToWatchlist(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	watched := testStock(t, core, "00700", "HK")
	other := testStock(t, core, "AAPL", "US")
	testWatch(t, core, watched, "chart_analyst")
	acc := testAccount(t, core, "hk", 300)
	empty := testAccount(t, core, "empty", 200)
	testPosition(t, core, acc, watched, 100, 320)
	testPosition(t, core, acc, other, 1, 100)

	view, err := core.PortfolioForAgent(ctx, "chart_analyst")
	assertNoError(t, err, "portfolio for agent")
	if len(view.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(view.Accounts))
	}
	if view.Accounts[0].ID != acc || len(view.Accounts[0].Positions) != 1 {
		t.Fatalf("first account = %+v", view.Accounts[0])
	}
	if view.Accounts[1].ID != empty || len(view.Accounts[1].Positions) != 0 {
		t.Fatalf("second account = %+v", view.Accounts[1])
	}
	assertFloatEquals(t, view.TotalAvailableFunds().Float(), 500, "total funds")
}

func TestAddPositionRejectsDuplicate(t *testing.T) {
	core, cleanup := setupTestDB(t)
	defer cleanup()

	stock := testStock(t, core, "AAPL", "US")
	acc := testAccount(t, core, "A1", 0)
	testPosition(t, core, acc, stock, 1, 1)
	_, err := core.AddPosition(context.Background(), Position{AccountID: acc, StockID: stock, Quantity: 2, CostPrice: NewAmount(2)})
	assertError(t, err, "duplicate position")
	if !IsErrorCode(err, ErrCodeDuplicate) {
		t.Fatalf("error code = %v, want duplicate", err)
	}
}
