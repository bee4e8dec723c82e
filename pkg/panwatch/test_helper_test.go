package panwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates a temporary database for testing.
// Returns the Core instance and a cleanup function.
func setupTestDB(t *testing.T) (*Core, func()) {
	return setupTestDBWithClock(t, nil)
}

// setupTestDBWithClock opens a temporary database whose clock is now.
func setupTestDBWithClock(t *testing.T, now func() time.Time) (*Core, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "panwatch-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	core, err := OpenWithOptions(Options{DBPath: filepath.Join(tmpDir, "test.db"), Now: now})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open test db: %v", err)
	}

	cleanup := func() {
		core.Close()
		os.RemoveAll(tmpDir)
	}
	return core, cleanup
}

// testStock creates an enabled stock and returns its id.
func testStock(t *testing.T, core *Core, symbol, market string) int64 {
	t.Helper()
	id, err := core.AddStock(context.Background(), Stock{Symbol: symbol, Name: symbol, Market: market, Enabled: true})
	if err != nil {
		t.Fatalf("failed to create test stock: %v", err)
	}
	return id
}

// testWatch associates a stock with an agent.
func testWatch(t *testing.T, core *Core, stockID int64, agent string) int64 {
	t.Helper()
	id, err := core.AddStockAgent(context.Background(), StockAgent{StockID: stockID, AgentName: agent})
	if err != nil {
		t.Fatalf("failed to associate stock: %v", err)
	}
	return id
}

// testAccount creates an enabled account with the given funds.
func testAccount(t *testing.T, core *Core, name string, funds float64) int64 {
	t.Helper()
	id, err := core.AddAccount(context.Background(), Account{Name: name, AvailableFunds: NewAmount(funds), Enabled: true})
	if err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return id
}

// testPosition creates a position with the default trading style.
func testPosition(t *testing.T, core *Core, accountID, stockID int64, qty int64, cost float64) int64 {
	t.Helper()
	id, err := core.AddPosition(context.Background(), Position{AccountID: accountID, StockID: stockID, Quantity: qty, CostPrice: NewAmount(cost)})
	if err != nil {
		t.Fatalf("failed to create test position: %v", err)
	}
	return id
}

// assertNoError fails the test if err is not nil.
func assertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// assertError fails the test if err is nil.
func assertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", msg)
	}
}

// assertFloatEquals fails the test if the floats differ by more than 0.001.
func assertFloatEquals(t *testing.T, got, want float64, msg string) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff >= 0.001 {
		t.Errorf("%s: got %.4f, want %.4f", msg, got, want)
	}
}
