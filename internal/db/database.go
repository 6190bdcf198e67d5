package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database that vanishes with the
// process.
const MemoryPath = ":memory:"

// Database archives evicted room state in SQLite. It implements
// room.Archive.
type Database struct {
	db     *sql.DB
	logger *slog.Logger
}

// ArchivedRoom describes one archived room without its state blob.
type ArchivedRoom struct {
	ID         string    `json:"id"`
	Size       int       `json:"size"`
	SaveCount  int       `json:"save_count"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `json:"archived_at"`
}

func New(dbPath string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if dbPath == MemoryPath {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info("database initialized", "path", dbPath)
	return &Database{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_archives (
		room_id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		save_count INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_room_archives_updated_at ON room_archives(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveState stores the encoded state of a room, replacing any earlier copy.
func (d *Database) SaveState(ctx context.Context, roomID string, state []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO room_archives (room_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			state = excluded.state,
			save_count = room_archives.save_count + 1,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, state)
	if err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// LoadState returns the archived state of a room, or nil when the room was
// never archived.
func (d *Database) LoadState(ctx context.Context, roomID string) ([]byte, error) {
	var state []byte
	err := d.db.QueryRowContext(ctx,
		"SELECT state FROM room_archives WHERE room_id = ?",
		roomID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return state, nil
}

func (d *Database) DeleteState(ctx context.Context, roomID string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM room_archives WHERE room_id = ?", roomID); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

// GetArchived returns metadata for one archived room, or nil if absent.
func (d *Database) GetArchived(ctx context.Context, roomID string) (*ArchivedRoom, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT room_id, length(state), save_count, created_at, updated_at
		FROM room_archives WHERE room_id = ?
	`, roomID)

	var room ArchivedRoom
	err := row.Scan(&room.ID, &room.Size, &room.SaveCount, &room.CreatedAt, &room.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListArchived returns archived rooms, most recently archived first.
func (d *Database) ListArchived(ctx context.Context, limit, offset int) ([]ArchivedRoom, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT room_id, length(state), save_count, created_at, updated_at
		FROM room_archives
		ORDER BY updated_at DESC, room_id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []ArchivedRoom
	for rows.Next() {
		var room ArchivedRoom
		if err := rows.Scan(&room.ID, &room.Size, &room.SaveCount, &room.CreatedAt, &room.ArchivedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	var totalBytes sql.NullInt64
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(length(state)) FROM room_archives",
	).Scan(&roomCount, &totalBytes); err != nil {
		return nil, err
	}
	stats["archived_rooms"] = roomCount
	stats["archived_bytes"] = totalBytes.Int64

	return stats, nil
}
