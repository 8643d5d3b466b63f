// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/Corphon/TomatoTown/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore 把存档保存在 SQLite 的 snapshots 表中，每个槽一行
type SQLiteStore struct {
	sqlDB *sql.DB
	slot  string
}

// OpenSQLite 打开并初始化 SQLite 存档
func OpenSQLite(path, slot string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	if slot == "" {
		slot = DefaultSlot
	}
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, errors.Wrap(err, "create sqlite dir")
	}

	// modernc.org/sqlite 只识别 _pragma=name(value) 形式的参数
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &SQLiteStore{sqlDB: sqlDB, slot: slot}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts the snapshot for the store's slot.
func (s *SQLiteStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil {
		return errors.New("snapshot is required")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (slot, payload, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		s.slot, string(payload), snapshot.SaveTime.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "save snapshot")
	}
	return nil
}

// Load returns the stored snapshot, or nil when the slot is empty.
func (s *SQLiteStore) Load(ctx context.Context) (*models.Snapshot, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE slot = ?`, s.slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &snap, nil
}

// Delete removes the slot's snapshot.
func (s *SQLiteStore) Delete(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM snapshots WHERE slot = ?`, s.slot); err != nil {
		return errors.Wrap(err, "delete snapshot")
	}
	return nil
}

// Slots lists every slot with a stored snapshot.
func (s *SQLiteStore) Slots(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT slot FROM snapshots ORDER BY slot`)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, errors.Wrap(err, "scan slot")
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}
