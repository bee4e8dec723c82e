package panwatch

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const agentColumns = "id, name, display_name, description, schedule, execution_mode, enabled, ai_model_id, notify_channel_ids, config"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (AgentConfig, error) {
	var a AgentConfig
	var mode string
	var enabled int
	var modelID sql.NullInt64
	var channels, cfg sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.Schedule, &mode, &enabled, &modelID, &channels, &cfg); err != nil {
		return a, err
	}
	a.ExecutionMode = ExecutionMode(mode)
	a.Enabled = enabled == 1
	a.AIModelID = int64Ptr(modelID)
	a.NotifyChannelIDs = decodeIDs(channels)
	a.Config = decodeMap(cfg)
	return a, nil
}

// ListAgents returns all agent definitions ordered by id.
func (c *Core) ListAgents(ctx context.Context) ([]AgentConfig, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agent_configs ORDER BY id")
	if err != nil {
		return nil, dbErr("list agents", err)
	}
	defer rows.Close()

	var agents []AgentConfig
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, dbErr("scan agent", err)
		}
		agents = append(agents, a)
	}
	return agents, dbErr("list agents", rows.Err())
}

// GetAgent loads an agent definition by name.
func (c *Core) GetAgent(ctx context.Context, name string) (*AgentConfig, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agent_configs WHERE name = ?", name)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(ErrCodeNotFound, "agent not found: "+name)
	}
	if err != nil {
		return nil, dbErr("get agent", err)
	}
	return &a, nil
}

// SeedAgents inserts missing agent definitions. Existing rows keep their
// admin-edited fields but have execution mode, display name and description
// synced from defs.
func (c *Core) SeedAgents(ctx context.Context, defs []AgentConfig) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		for _, def := range defs {
			if strings.TrimSpace(def.Name) == "" {
				return NewError(ErrCodeInvalidInput, "agent name is required")
			}
			mode := def.ExecutionMode
			if !mode.Valid() {
				mode = ModeBatch
			}
			var id int64
			err := tx.QueryRowContext(ctx, "SELECT id FROM agent_configs WHERE name = ?", def.Name).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				_, err = tx.ExecContext(ctx, `
					INSERT INTO agent_configs (name, display_name, description, schedule, execution_mode, enabled, ai_model_id, notify_channel_ids, config)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, def.Name, def.DisplayName, def.Description, def.Schedule, string(mode), boolToInt(def.Enabled),
					nullInt64(def.AIModelID), encodeIDs(def.NotifyChannelIDs), encodeMap(def.Config))
				if err != nil {
					return dbErr("insert agent", err)
				}
			case err != nil:
				return dbErr("lookup agent", err)
			default:
				_, err = tx.ExecContext(ctx, `
					UPDATE agent_configs SET execution_mode = ?, display_name = ?, description = ?, updated_at = CURRENT_TIMESTAMP
					WHERE id = ?
				`, string(mode), def.DisplayName, def.Description, id)
				if err != nil {
					return dbErr("sync agent", err)
				}
			}
		}
		return nil
	})
}

// UpdateAgent applies an admin edit to an agent and returns the new definition.
func (c *Core) UpdateAgent(ctx context.Context, name string, upd AgentUpdate) (*AgentConfig, error) {
	current, err := c.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	if upd.Enabled != nil {
		current.Enabled = *upd.Enabled
	}
	if upd.Schedule != nil {
		current.Schedule = strings.TrimSpace(*upd.Schedule)
	}
	if upd.ExecutionMode != nil {
		if !upd.ExecutionMode.Valid() {
			return nil, NewError(ErrCodeInvalidInput, "invalid execution mode: "+string(*upd.ExecutionMode))
		}
		current.ExecutionMode = *upd.ExecutionMode
	}
	if upd.ClearAIModel {
		current.AIModelID = nil
	} else if upd.AIModelID != nil {
		current.AIModelID = upd.AIModelID
	}
	if upd.NotifyChannelIDs != nil {
		current.NotifyChannelIDs = *upd.NotifyChannelIDs
	}
	if upd.Config != nil {
		current.Config = upd.Config
	}

	_, err = c.db.ExecContext(ctx, `
		UPDATE agent_configs
		SET enabled = ?, schedule = ?, execution_mode = ?, ai_model_id = ?, notify_channel_ids = ?, config = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, boolToInt(current.Enabled), current.Schedule, string(current.ExecutionMode), nullInt64(current.AIModelID),
		encodeIDs(current.NotifyChannelIDs), encodeMap(current.Config), current.ID)
	if err != nil {
		return nil, dbErr("update agent", err)
	}
	return current, nil
}
