package settings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps settings in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	hub hub
}

// OpenSQLite opens or creates the database at path and seeds defaults for
// missing keys. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("settings: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	s := &SQLiteStore{db: db}
	def := Defaults()
	seed := map[string]string{
		KeyMaskValue: formatFloat(def.MaskValue),
		KeyMaskOn:    strconv.FormatBool(def.IsMaskOn),
	}
	for k, v := range seed {
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
			k, v, now()); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: seed %s: %w", k, err)
		}
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	st := Defaults()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return st, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return st, fmt.Errorf("settings: load: %w", err)
		}
		switch k {
		case KeyMaskValue:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || ValidateMaskValue(f) != nil {
				continue
			}
			st.MaskValue = f
		case KeyMaskOn:
			b, err := strconv.ParseBool(v)
			if err != nil {
				continue
			}
			st.IsMaskOn = b
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("settings: load: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) SetMaskValue(ctx context.Context, v float64) error {
	if err := ValidateMaskValue(v); err != nil {
		return err
	}
	return s.set(ctx, KeyMaskValue, formatFloat(v))
}

func (s *SQLiteStore) SetMaskOn(ctx context.Context, on bool) error {
	return s.set(ctx, KeyMaskOn, strconv.FormatBool(on))
}

func (s *SQLiteStore) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}

func (s *SQLiteStore) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now())
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	st, err := s.Load(ctx)
	if err != nil {
		return err
	}
	s.hub.publish(Change{Key: key, State: st})
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
