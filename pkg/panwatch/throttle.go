package panwatch

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetThrottle returns the record for key, or nil when none exists.
func (c *Core) GetThrottle(ctx context.Context, key ThrottleKey) (*ThrottleRecord, error) {
	rec, found, err := loadThrottle(ctx, c.db, key)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// AllowNotify reports whether key may notify now: true when no record exists
// or at least window has elapsed since the last notification.
func (c *Core) AllowNotify(ctx context.Context, key ThrottleKey, window time.Duration) (bool, error) {
	rec, found, err := loadThrottle(ctx, c.db, key)
	if err != nil {
		return false, err
	}
	return throttleAllows(rec, found, c.now(), window), nil
}

// RecordNotify stamps key with the current time. notify_count increments
// within a local day and restarts at 1 when the date changes.
func (c *Core) RecordNotify(ctx context.Context, key ThrottleKey) error {
	return c.WithTx(ctx, func(tx *sql.Tx) error {
		rec, found, err := loadThrottle(ctx, tx, key)
		if err != nil {
			return err
		}
		return c.writeThrottle(ctx, tx, key, rec, found, c.now())
	})
}

// AcquireNotify performs the AllowNotify check and, when allowed, the
// RecordNotify update inside one transaction. Two concurrent callers for the
// same key cannot both be granted within one window.
func (c *Core) AcquireNotify(ctx context.Context, key ThrottleKey, window time.Duration) (bool, error) {
	granted := false
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		rec, found, err := loadThrottle(ctx, tx, key)
		if err != nil {
			return err
		}
		now := c.now()
		if !throttleAllows(rec, found, now, window) {
			return nil
		}
		if err := c.writeThrottle(ctx, tx, key, rec, found, now); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

func throttleAllows(rec ThrottleRecord, found bool, now time.Time, window time.Duration) bool {
	if !found {
		return true
	}
	return now.Sub(rec.LastNotifyAt) >= window
}

func loadThrottle(ctx context.Context, q queryer, key ThrottleKey) (ThrottleRecord, bool, error) {
	rec := ThrottleRecord{ThrottleKey: key}
	var last string
	err := q.QueryRowContext(ctx,
		"SELECT last_notify_at, notify_count FROM notify_throttle WHERE agent_name = ? AND stock_symbol = ?",
		key.AgentName, key.Symbol,
	).Scan(&last, &rec.NotifyCount)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, dbErr("load throttle", err)
	}
	ts, err := parseTimestamp(last)
	if err != nil {
		return rec, false, WrapError(ErrCodeDatabase, "parse throttle timestamp", err)
	}
	rec.LastNotifyAt = ts
	return rec, true, nil
}

func (c *Core) writeThrottle(ctx context.Context, q queryer, key ThrottleKey, prev ThrottleRecord, found bool, now time.Time) error {
	count := 1
	if found && sameLocalDate(prev.LastNotifyAt, now, c.location) {
		count = prev.NotifyCount + 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO notify_throttle (agent_name, stock_symbol, last_notify_at, notify_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_name, stock_symbol) DO UPDATE
		SET last_notify_at = excluded.last_notify_at, notify_count = excluded.notify_count
	`, key.AgentName, key.Symbol, formatTimestamp(now), count)
	return dbErr("record throttle", err)
}

func sameLocalDate(a, b time.Time, loc *time.Location) bool {
	return a.In(loc).Format(dateLayout) == b.In(loc).Format(dateLayout)
}
