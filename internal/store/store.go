// Package store persists plugin flags and settings in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// Store is the plugin metadata store of one host instance.
type Store struct {
	db       *sql.DB
	instance string
	logger   hclog.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Store) {
		s.logger = l.Named("store")
	}
}

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) the database at path and migrates it. Rows are
// scoped to instance so several host instances can share one database.
func Open(path, instance string, opts ...Option) (*Store, error) {
	dsn := path
	if path != Memory {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == Memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{
		db:       db,
		instance: instance,
		logger:   hclog.NewNullLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	s.logger.Debug("opened", "path", path, "instance", instance)
	return s, nil
}

// migrate creates all required tables.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS plugins (
			id          TEXT    NOT NULL,
			instance    TEXT    NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 0,
			auto_update INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (id, instance)
		);

		CREATE TABLE IF NOT EXISTS plugin_settings (
			id         TEXT    NOT NULL,
			instance   TEXT    NOT NULL,
			settings   TEXT    NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (id, instance)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsEnabled reports whether a plugin is enabled. Unknown plugins are not.
func (s *Store) IsEnabled(id string) (bool, error) {
	return s.flag(id, "enabled")
}

// SetEnabled persists the enabled flag.
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.setFlag(id, "enabled", enabled)
}

// IsAutoUpdate reports whether automatic updates are enabled for a plugin.
func (s *Store) IsAutoUpdate(id string) (bool, error) {
	return s.flag(id, "auto_update")
}

// SetAutoUpdate persists the auto-update flag.
func (s *Store) SetAutoUpdate(id string, enabled bool) error {
	return s.setFlag(id, "auto_update", enabled)
}

// flag reads a boolean column of the plugins table. column is never user
// input.
func (s *Store) flag(id, column string) (bool, error) {
	var v int
	err := s.db.QueryRow(
		"SELECT "+column+" FROM plugins WHERE id = ? AND instance = ?", id, s.instance,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s of %s: %w", column, id, err)
	}
	return v != 0, nil
}

func (s *Store) setFlag(id, column string, value bool) error {
	_, err := s.db.Exec(
		"INSERT INTO plugins (id, instance, "+column+", updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (id, instance) DO UPDATE SET "+column+" = excluded."+column+", updated_at = excluded.updated_at",
		id, s.instance, boolInt(value), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("write %s of %s: %w", column, id, err)
	}
	s.logger.Trace("flag updated", "id", id, "flag", column, "value", value)
	return nil
}

// Settings returns the stored settings document of a plugin. The boolean
// is false if nothing was stored.
func (s *Store) Settings(id string) (map[string]any, bool, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT settings FROM plugin_settings WHERE id = ? AND instance = ?", id, s.instance,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read settings of %s: %w", id, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("decode settings of %s: %w", id, err)
	}
	return doc, true, nil
}

// SaveSettings stores the settings document of a plugin.
func (s *Store) SaveSettings(id string, doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings of %s: %w", id, err)
	}
	_, err = s.db.Exec(
		"INSERT INTO plugin_settings (id, instance, settings, updated_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (id, instance) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at",
		id, s.instance, string(raw), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("write settings of %s: %w", id, err)
	}
	return nil
}

// DeletePlugin removes every row of a plugin.
func (s *Store) DeletePlugin(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"plugins", "plugin_settings"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE id = ? AND instance = ?", id, s.instance); err != nil {
			return fmt.Errorf("delete %s from %s: %w", id, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.logger.Debug("plugin deleted", "id", id)
	return nil
}

// UpdatedAt returns when a plugin's flags were last written.
func (s *Store) UpdatedAt(id string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRow(
		"SELECT updated_at FROM plugins WHERE id = ? AND instance = ?", id, s.instance,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read updated_at of %s: %w", id, err)
	}
	return time.Unix(ts, 0), true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
