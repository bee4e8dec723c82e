package panwatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
)

// AddNotifyChannel inserts a notification channel.
func (c *Core) AddNotifyChannel(ctx context.Context, ch NotifyChannel) (int64, error) {
	if strings.TrimSpace(ch.Type) == "" {
		return 0, NewError(ErrCodeInvalidInput, "channel type is required")
	}
	cfg, err := json.Marshal(ch.Config)
	if err != nil {
		return 0, WrapError(ErrCodeInvalidInput, "encode channel config", err)
	}
	if ch.Config == nil {
		cfg = []byte("{}")
	}
	res, err := c.db.ExecContext(ctx,
		"INSERT INTO notify_channels (name, type, config, enabled, is_default) VALUES (?, ?, ?, ?, ?)",
		ch.Name, strings.ToLower(strings.TrimSpace(ch.Type)), string(cfg), boolToInt(ch.Enabled), boolToInt(ch.IsDefault),
	)
	if err != nil {
		return 0, dbErr("insert notify channel", err)
	}
	return res.LastInsertId()
}

// EnabledChannelsByIDs returns the enabled channels among ids, ordered by id.
func (c *Core) EnabledChannelsByIDs(ctx context.Context, ids []int64) ([]NotifyChannel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return c.queryChannels(ctx, "WHERE enabled = 1 AND id IN ("+placeholders+")", args...)
}

// DefaultChannels returns every enabled channel flagged as system default.
func (c *Core) DefaultChannels(ctx context.Context) ([]NotifyChannel, error) {
	return c.queryChannels(ctx, "WHERE enabled = 1 AND is_default = 1")
}

func (c *Core) queryChannels(ctx context.Context, where string, args ...any) ([]NotifyChannel, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, name, type, config, enabled, is_default FROM notify_channels "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, dbErr("list notify channels", err)
	}
	defer rows.Close()

	var channels []NotifyChannel
	for rows.Next() {
		var ch NotifyChannel
		var cfg sql.NullString
		var enabled, isDefault int
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &cfg, &enabled, &isDefault); err != nil {
			return nil, dbErr("scan notify channel", err)
		}
		ch.Enabled = enabled == 1
		ch.IsDefault = isDefault == 1
		ch.Config = map[string]string{}
		if cfg.Valid && cfg.String != "" {
			_ = json.Unmarshal([]byte(cfg.String), &ch.Config)
		}
		channels = append(channels, ch)
	}
	return channels, dbErr("list notify channels", rows.Err())
}
