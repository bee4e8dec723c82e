package panwatch

import "context"

// AddLogEntry persists a log record.
func (c *Core) AddLogEntry(ctx context.Context, e LogEntry) error {
	if e.Timestamp == "" {
		e.Timestamp = formatTimestamp(c.Now())
	}
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO log_entries (timestamp, level, message, attrs) VALUES (?, ?, ?, ?)",
		e.Timestamp, e.Level, e.Message, e.Attrs,
	)
	return dbErr("insert log entry", err)
}

// ListLogEntries returns recent log entries, newest first.
func (c *Core) ListLogEntries(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, timestamp, level, message, attrs FROM log_entries ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, dbErr("list log entries", err)
	}
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.Attrs); err != nil {
			return nil, dbErr("scan log entry", err)
		}
		entries = append(entries, e)
	}
	return entries, dbErr("list log entries", rows.Err())
}
