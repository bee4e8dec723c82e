package panwatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// SaveAnalysis upserts the analysis for (agent, symbol, date).
func (c *Core) SaveAnalysis(ctx context.Context, rec AnalysisRecord) error {
	if rec.AgentName == "" || rec.Symbol == "" {
		return NewError(ErrCodeInvalidInput, "agent name and symbol are required")
	}
	if rec.AnalysisDate == "" {
		rec.AnalysisDate = c.Today()
	}
	raw := "{}"
	if len(rec.RawData) > 0 {
		if data, err := json.Marshal(rec.RawData); err == nil {
			raw = string(data)
		}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO analysis_history (agent_name, stock_symbol, analysis_date, title, content, raw_data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_name, stock_symbol, analysis_date) DO UPDATE
		SET title = excluded.title, content = excluded.content, raw_data = excluded.raw_data, updated_at = excluded.updated_at
	`, rec.AgentName, rec.Symbol, rec.AnalysisDate, rec.Title, rec.Content, raw, formatTimestamp(c.Now()))
	return dbErr("save analysis", err)
}

// LatestAnalysis returns the newest analysis for agent and symbol whose date
// is strictly before beforeDate, or on it when inclusive is set. It returns
// nil when nothing matches.
func (c *Core) LatestAnalysis(ctx context.Context, agentName, symbol, beforeDate string, inclusive bool) (*AnalysisRecord, error) {
	op := "<"
	if inclusive {
		op = "<="
	}
	var rec AnalysisRecord
	var raw sql.NullString
	err := c.db.QueryRowContext(ctx, `
		SELECT id, agent_name, stock_symbol, analysis_date, title, content, raw_data, updated_at
		FROM analysis_history
		WHERE agent_name = ? AND stock_symbol = ? AND analysis_date `+op+` ?
		ORDER BY analysis_date DESC LIMIT 1
	`, agentName, symbol, beforeDate).Scan(&rec.ID, &rec.AgentName, &rec.Symbol, &rec.AnalysisDate, &rec.Title, &rec.Content, &raw, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("latest analysis", err)
	}
	rec.RawData = decodeMap(raw)
	return &rec, nil
}
