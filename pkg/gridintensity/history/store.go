// Package history keeps a local record of resolved carbon intensities for
// reporting. It is never consulted to answer a fetch.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

// Record is one resolved carbon intensity
type Record struct {
	ID              string            `json:"id"`
	ResolvedAt      time.Time         `json:"resolvedAt"`
	Location        location.Location `json:"location"`
	Fetcher         string            `json:"fetcher"`
	CarbonIntensity float64           `json:"carbonIntensity"`
	IsPrediction    bool              `json:"isPrediction"`
}

// Recorder persists resolved carbon intensities
type Recorder interface {
	Record(ctx context.Context, ci intensity.CarbonIntensity, resolvedAt time.Time) (Record, error)
	Range(ctx context.Context, country string, start, end time.Time) ([]Record, error)
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// SQLiteStore implements Recorder on a local SQLite database
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

var _ Recorder = &SQLiteStore{}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	klog.V(2).InfoS("Opened intensity history", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intensity_records (
		id TEXT PRIMARY KEY,
		resolved_at INTEGER NOT NULL, -- unix milliseconds
		country TEXT NOT NULL,
		postal TEXT NOT NULL DEFAULT '',
		fetcher TEXT NOT NULL,
		carbon_intensity REAL NOT NULL,
		is_prediction INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_country_resolved_at ON intensity_records(country, resolved_at);
	CREATE INDEX IF NOT EXISTS idx_resolved_at ON intensity_records(resolved_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO intensity_records (
				id, resolved_at, country, postal, fetcher, carbon_intensity, is_prediction
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
		"select_range": `
			SELECT id, resolved_at, country, postal, fetcher, carbon_intensity, is_prediction
			FROM intensity_records
			WHERE country = ? AND resolved_at >= ? AND resolved_at < ?
			ORDER BY resolved_at ASC
		`,
		"cleanup": `
			DELETE FROM intensity_records
			WHERE resolved_at < ?
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}
	return nil
}

// Record stores ci as resolved at resolvedAt
func (s *SQLiteStore) Record(ctx context.Context, ci intensity.CarbonIntensity, resolvedAt time.Time) (Record, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record := Record{
		ID:              uuid.NewString(),
		ResolvedAt:      resolvedAt.UTC().Truncate(time.Millisecond),
		Location:        ci.Location,
		Fetcher:         ci.Fetcher,
		CarbonIntensity: ci.CarbonIntensity,
		IsPrediction:    ci.IsPrediction,
	}

	_, err := s.prepared["insert"].ExecContext(ctx,
		record.ID,
		record.ResolvedAt.UnixMilli(),
		record.Location.Country,
		record.Location.Postal,
		record.Fetcher,
		record.CarbonIntensity,
		record.IsPrediction,
	)
	if err != nil {
		klog.V(2).InfoS("Failed to store intensity record", "error", err, "location", ci.Location.String())
		return Record{}, fmt.Errorf("failed to store record: %w", err)
	}

	klog.V(3).InfoS("Stored intensity record",
		"id", record.ID,
		"location", record.Location.String(),
		"fetcher", record.Fetcher,
		"intensity", record.CarbonIntensity)

	return record, nil
}

// Range returns records for country resolved in [start, end), oldest first
func (s *SQLiteStore) Range(ctx context.Context, country string, start, end time.Time) ([]Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_range"].QueryContext(ctx, country, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			record     Record
			resolvedAt int64
		)
		if err := rows.Scan(
			&record.ID,
			&resolvedAt,
			&record.Location.Country,
			&record.Location.Postal,
			&record.Fetcher,
			&record.CarbonIntensity,
			&record.IsPrediction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		record.ResolvedAt = time.UnixMilli(resolvedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// Cleanup removes records resolved before the cutoff and returns how many
func (s *SQLiteStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.prepared["cleanup"].ExecContext(ctx, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old records: %w", err)
	}

	deleted, _ := result.RowsAffected()
	klog.V(2).InfoS("Cleaned up old intensity records",
		"cutoff", before,
		"rowsDeleted", deleted)
	return deleted, nil
}

// Close closes the prepared statements and the database
func (s *SQLiteStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}
	return s.db.Close()
}
