package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"carebook/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the sqlite-backed booking store. Center/service data is
// collaborator-owned and only cached here for reference resolution.
type DB struct {
	*sql.DB
	mu           sync.RWMutex
	centersCache map[int64]*models.Center
	logger       *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; one pooled connection also keeps
	// :memory: databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, centersCache: make(map[int64]*models.Center), logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_number TEXT NOT NULL UNIQUE,
            user_id INTEGER NOT NULL,
            center_id INTEGER NOT NULL,
            service_id INTEGER,
            date TEXT NOT NULL,
            time TEXT NOT NULL,
            booking_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            external_event_id TEXT,
            external_event_uri TEXT,
            external_cancel_url TEXT,
            external_reschedule_url TEXT,
            questionnaire TEXT,
            cancellation_reason TEXT,
            notes TEXT,
            confirmation_sent_at DATETIME,
            reminder_sent_at DATETIME,
            sms_sent BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            deleted_at DATETIME,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS booking_counters (
            day TEXT PRIMARY KEY,
            seq INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_slot ON bookings(user_id, center_id, date, time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date_status ON bookings(date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_event_uri ON bookings(external_event_uri)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetCenters replaces the cached center directory.
func (db *DB) SetCenters(centers []*models.Center) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.centersCache = make(map[int64]*models.Center, len(centers))
	for _, c := range centers {
		db.centersCache[c.ID] = c
	}
}

// GetCenter resolves a center reference from the cached directory.
func (db *DB) GetCenter(id int64) (*models.Center, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.centersCache[id]
	if !ok || !c.IsActive {
		return nil, fmt.Errorf("center %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// GetCenters returns all cached centers.
func (db *DB) GetCenters() []*models.Center {
	db.mu.RLock()
	defer db.mu.RUnlock()
	centers := make([]*models.Center, 0, len(db.centersCache))
	for _, c := range db.centersCache {
		centers = append(centers, c)
	}
	return centers
}
