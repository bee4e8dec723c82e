package panwatch

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// App setting keys read by the engine.
const (
	SettingHTTPProxy = "http_proxy"
)

// AddAIService inserts an AI provider endpoint.
func (c *Core) AddAIService(ctx context.Context, s AIService) (int64, error) {
	if strings.TrimSpace(s.Name) == "" {
		return 0, NewError(ErrCodeInvalidInput, "service name is required")
	}
	res, err := c.db.ExecContext(ctx,
		"INSERT INTO ai_services (name, base_url, api_key) VALUES (?, ?, ?)",
		strings.TrimSpace(s.Name), strings.TrimSpace(s.BaseURL), strings.TrimSpace(s.APIKey),
	)
	if err != nil {
		return 0, dbErr("insert ai service", err)
	}
	return res.LastInsertId()
}

// AddAIModel inserts a model. Marking it default clears any previous default.
func (c *Core) AddAIModel(ctx context.Context, m AIModel) (int64, error) {
	if m.ServiceID <= 0 || strings.TrimSpace(m.Model) == "" {
		return 0, NewError(ErrCodeInvalidInput, "service id and model are required")
	}
	var id int64
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		if m.IsDefault {
			if _, err := tx.ExecContext(ctx, "UPDATE ai_models SET is_default = 0"); err != nil {
				return dbErr("clear default model", err)
			}
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO ai_models (name, service_id, model, is_default) VALUES (?, ?, ?, ?)",
			m.Name, m.ServiceID, strings.TrimSpace(m.Model), boolToInt(m.IsDefault),
		)
		if err != nil {
			return dbErr("insert ai model", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetAIModel loads a model together with its service.
func (c *Core) GetAIModel(ctx context.Context, id int64) (*AIModel, *AIService, error) {
	var m AIModel
	var s AIService
	var isDefault int
	err := c.db.QueryRowContext(ctx, `
		SELECT m.id, m.name, m.service_id, m.model, m.is_default, s.id, s.name, s.base_url, s.api_key
		FROM ai_models m JOIN ai_services s ON s.id = m.service_id
		WHERE m.id = ?
	`, id).Scan(&m.ID, &m.Name, &m.ServiceID, &m.Model, &isDefault, &s.ID, &s.Name, &s.BaseURL, &s.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, NewError(ErrCodeNotFound, "ai model not found")
	}
	if err != nil {
		return nil, nil, dbErr("get ai model", err)
	}
	m.IsDefault = isDefault == 1
	return &m, &s, nil
}

// DefaultAIModelID returns the id of the model flagged as system default.
func (c *Core) DefaultAIModelID(ctx context.Context) (int64, bool, error) {
	return c.singleID(ctx, "SELECT id FROM ai_models WHERE is_default = 1 ORDER BY id LIMIT 1")
}

// FirstAIModelID returns the lowest model id, if any model exists.
func (c *Core) FirstAIModelID(ctx context.Context) (int64, bool, error) {
	return c.singleID(ctx, "SELECT id FROM ai_models ORDER BY id LIMIT 1")
}

func (c *Core) singleID(ctx context.Context, query string) (int64, bool, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, query).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dbErr("lookup id", err)
	}
	return id, true, nil
}

// GetSetting returns an app setting value, or "" when unset.
func (c *Core) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbErr("get setting", err)
	}
	return value, nil
}

// SetSetting upserts an app setting.
func (c *Core) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return dbErr("set setting", err)
}
