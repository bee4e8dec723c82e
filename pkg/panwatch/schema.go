package panwatch

import (
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		market TEXT NOT NULL DEFAULT 'CN',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, market)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		execution_mode TEXT NOT NULL DEFAULT 'batch' CHECK(execution_mode IN ('batch', 'single')),
		enabled INTEGER NOT NULL DEFAULT 1,
		ai_model_id INTEGER,
		notify_channel_ids TEXT NOT NULL DEFAULT '[]',
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stock_agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id INTEGER NOT NULL,
		agent_name TEXT NOT NULL,
		ai_model_id INTEGER,
		notify_channel_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(stock_id, agent_name),
		FOREIGN KEY(stock_id) REFERENCES stocks(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		available_funds REAL NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		stock_id INTEGER NOT NULL,
		cost_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		invested_amount REAL,
		trading_style TEXT NOT NULL DEFAULT 'swing',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, stock_id),
		FOREIGN KEY(account_id) REFERENCES accounts(id) ON DELETE CASCADE,
		FOREIGN KEY(stock_id) REFERENCES stocks(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS ai_services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		base_url TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS ai_models (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		service_id INTEGER NOT NULL,
		model TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(service_id) REFERENCES ai_services(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS notify_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS app_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS notify_throttle (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_name TEXT NOT NULL,
		stock_symbol TEXT NOT NULL,
		last_notify_at TEXT NOT NULL,
		notify_count INTEGER NOT NULL DEFAULT 1,
		UNIQUE(agent_name, stock_symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		agent_name TEXT NOT NULL,
		stock_symbol TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		notified INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_name TEXT NOT NULL,
		stock_symbol TEXT NOT NULL,
		analysis_date TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		raw_data TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL,
		UNIQUE(agent_name, stock_symbol, analysis_date)
	)`,
	`CREATE TABLE IF NOT EXISTS log_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		attrs TEXT NOT NULL DEFAULT ''
	)`,
}

var schemaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_stock_agents_agent ON stock_agents(agent_name)",
	"CREATE INDEX IF NOT EXISTS idx_positions_stock ON positions(stock_id)",
	"CREATE INDEX IF NOT EXISTS idx_agent_runs_agent ON agent_runs(agent_name, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_analysis_history_agent ON analysis_history(agent_name, analysis_date)",
	"CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries(timestamp)",
}

func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range schemaStatements {
		if err := exec(tx, stmt); err != nil {
			return err
		}
	}

	// Older databases predate per-association overrides.
	for _, col := range []struct{ table, column, ddl string }{
		{"stock_agents", "ai_model_id", "ALTER TABLE stock_agents ADD COLUMN ai_model_id INTEGER"},
		{"stock_agents", "notify_channel_ids", "ALTER TABLE stock_agents ADD COLUMN notify_channel_ids TEXT NOT NULL DEFAULT '[]'"},
		{"positions", "trading_style", "ALTER TABLE positions ADD COLUMN trading_style TEXT NOT NULL DEFAULT 'swing'"},
	} {
		has, err := tableHasColumn(tx, col.table, col.column)
		if err != nil {
			return err
		}
		if !has {
			if err := exec(tx, col.ddl); err != nil {
				return err
			}
		}
	}

	for _, idx := range schemaIndexes {
		if err := exec(tx, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
