package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/sitenotify/internal/api"
	"github.com/nhle/sitenotify/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return openSQLiteStore(dbPath, len(migrations))
}

// openSQLiteStore opens the database and migrates it up to target.
func openSQLiteStore(dbPath string, target int) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// The push receiver and the hub may write at the same moment.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(target); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var v int
	err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return v, err
}

// runMigrations checks the current schema version and applies any
// outstanding migrations up to target, each in its own transaction.
func (s *SQLiteStore) runMigrations(target int) error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		currentVersion, err = s.SchemaVersion()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion || m.version > target {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// PutNotification inserts n or overwrites the payload stored for its id.
// An existing synced flag is kept.
func (s *SQLiteStore) PutNotification(ctx context.Context, n model.Notification) error {
	if n.ID == "" {
		return errors.New("notification has no id")
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification %s: %w", n.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, payload, synced, received_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			received_at = excluded.received_at`,
		string(n.ID), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting notification %s: %w", n.ID, err)
	}

	return nil
}

// GetNotification retrieves a single record by id.
func (s *SQLiteStore) GetNotification(ctx context.Context, id model.ID) (*Record, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT id, payload, synced, received_at FROM notifications WHERE id = ?",
		string(id),
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}

	return &rec, nil
}

// Unsynced returns every record not yet replayed into the app, oldest
// first. The flag is read tri-state-safe so rows written under any
// historical encoding are handled.
func (s *SQLiteStore) Unsynced(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT id, payload, synced, received_at FROM notifications ORDER BY received_at",
	)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !rec.Synced {
			records = append(records, rec)
		}
	}

	return records, rows.Err()
}

// MarkSynced flags a single record as synced in its own transaction.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id model.ID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE notifications SET synced = 1 WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("marking notification %s synced: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Prune deletes synced records received before olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE synced = 1 AND received_at < ?",
		olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning notifications: %w", err)
	}
	return res.RowsAffected()
}

// SaveSubscription replaces the stored push subscription.
func (s *SQLiteStore) SaveSubscription(ctx context.Context, sub api.PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO push_subscriptions (
			id, endpoint, expiration_time, p256dh, auth, updated_at
		) VALUES (1, ?, ?, ?, ?, ?)`,
		sub.Endpoint, sub.ExpirationTime, sub.Keys.P256dh, sub.Keys.Auth, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the stored push subscription.
func (s *SQLiteStore) GetSubscription(ctx context.Context) (*api.PushSubscription, error) {
	var (
		sub     api.PushSubscription
		expires sql.NullInt64
	)
	err := s.db.QueryRowxContext(ctx,
		"SELECT endpoint, expiration_time, p256dh, auth FROM push_subscriptions WHERE id = 1",
	).Scan(&sub.Endpoint, &expires, &sub.Keys.P256dh, &sub.Keys.Auth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading push subscription: %w", err)
	}
	if expires.Valid {
		sub.ExpirationTime = &expires.Int64
	}
	return &sub, nil
}

// rowScanner is satisfied by *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans an id, payload, synced, received_at row.
func scanRecord(row rowScanner) (Record, error) {
	var (
		id         string
		payload    string
		synced     syncedFlag
		receivedAt time.Time
	)

	if err := row.Scan(&id, &payload, &synced, &receivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scanning notification row: %w", err)
	}

	var n model.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Record{}, fmt.Errorf("unmarshaling notification %s: %w", id, err)
	}
	if n.ID == "" {
		n.ID = model.ID(id)
	}

	return Record{Notification: n, Synced: bool(synced), ReceivedAt: receivedAt}, nil
}

// syncedFlag decodes every encoding the synced column has used. NULL,
// zero, empty and "false" all read as not synced.
type syncedFlag bool

func (f *syncedFlag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = false
	case bool:
		*f = syncedFlag(v)
	case int64:
		*f = v != 0
	case float64:
		*f = v != 0
	case []byte:
		*f = parseSynced(string(v))
	case string:
		*f = parseSynced(v)
	default:
		return fmt.Errorf("unsupported synced value %T", src)
	}
	return nil
}

func parseSynced(s string) syncedFlag {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "true" {
		return true
	}
	n, err := strconv.ParseFloat(s, 64)
	return err == nil && n != 0
}
