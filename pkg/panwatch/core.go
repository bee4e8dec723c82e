package panwatch

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Options controls Core initialization.
type Options struct {
	DBPath   string
	Logger   *slog.Logger
	Location *time.Location
	// Now overrides the wall clock used for throttle and audit timestamps.
	Now func() time.Time
}

// Core provides access to PanWatch storage: agent definitions, watchlists,
// accounts, the notification throttle and run audit records.
type Core struct {
	db       *sql.DB
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
	dbPath   string
}

// Open initializes a Core using the provided database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	location := opts.Location
	if location == nil {
		location = shanghaiLocation
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Core{
		db:       db,
		logger:   logger,
		location: location,
		now:      now,
		dbPath:   cleanPath,
	}, nil
}

// Close releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Location returns the timezone used for calendar-date decisions.
func (c *Core) Location() *time.Location {
	return c.location
}

// Now returns the current time in the core's location.
func (c *Core) Now() time.Time {
	return c.now().In(c.location)
}

// Today returns the current local date as YYYY-MM-DD.
func (c *Core) Today() string {
	return c.Now().Format(dateLayout)
}
