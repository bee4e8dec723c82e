package panwatch

import (
	"context"
	"strings"
)

// AddAgentRun stores an audit record. CreatedAt defaults to now.
func (c *Core) AddAgentRun(ctx context.Context, run AgentRun) (int64, error) {
	if strings.TrimSpace(run.RunID) == "" || strings.TrimSpace(run.AgentName) == "" {
		return 0, NewError(ErrCodeInvalidInput, "run id and agent name are required")
	}
	if run.CreatedAt == "" {
		run.CreatedAt = formatTimestamp(c.Now())
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO agent_runs (run_id, agent_name, stock_symbol, status, state, title, result, error, notified, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.AgentName, run.Symbol, run.Status, run.State, run.Title, run.Result, run.Error,
		boolToInt(run.Notified), run.DurationMS, run.CreatedAt)
	if err != nil {
		return 0, dbErr("insert agent run", err)
	}
	return res.LastInsertId()
}

// ListAgentRuns returns the most recent runs, newest first. An empty agent
// name lists runs for every agent.
func (c *Core) ListAgentRuns(ctx context.Context, agentName string, limit int) ([]AgentRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, run_id, agent_name, stock_symbol, status, state, title, result, error, notified, duration_ms, created_at
		FROM agent_runs`
	args := []any{}
	if agentName != "" {
		query += " WHERE agent_name = ?"
		args = append(args, agentName)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list agent runs", err)
	}
	defer rows.Close()

	var runs []AgentRun
	for rows.Next() {
		var r AgentRun
		var notified int
		if err := rows.Scan(&r.ID, &r.RunID, &r.AgentName, &r.Symbol, &r.Status, &r.State, &r.Title, &r.Result,
			&r.Error, &notified, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, dbErr("scan agent run", err)
		}
		r.Notified = notified == 1
		runs = append(runs, r)
	}
	return runs, dbErr("list agent runs", rows.Err())
}
