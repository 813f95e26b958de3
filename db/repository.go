package db

import (
	"context"
	"fmt"
	"time"
)

// timeLayout is how created_at is stored. It matches SQLite's datetime()
// output so retention comparisons work on the raw text.
const timeLayout = "2006-01-02 15:04:05"

// Generation status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// GenerationRecord is one row of generation_history.
type GenerationRecord struct {
	ID           string
	Model        string
	Prompt       string
	Size         string
	Steps        uint32
	CfgScale     float32
	Seed         int64
	Status       string
	ErrorKind    string
	ErrorMessage string
	ImageBytes   int
	DurationMS   int64
	CreatedAt    time.Time
}

// StatusCount is the number of records with one status.
type StatusCount struct {
	Status string
	Count  int64
}

// Repository reads and writes generation_history.
type Repository struct {
	db *Database
}

// NewRepository creates a Repository.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// InsertGeneration stores rec. A zero CreatedAt is set to now.
func (r *Repository) InsertGeneration(ctx context.Context, rec GenerationRecord) error {
	if r.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if rec.ID == "" {
		return fmt.Errorf("generation record id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO generation_history (
			id, model, prompt, size, steps, cfg_scale, seed,
			status, error_kind, error_message, image_bytes, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Model,
		rec.Prompt,
		rec.Size,
		rec.Steps,
		rec.CfgScale,
		rec.Seed,
		rec.Status,
		rec.ErrorKind,
		rec.ErrorMessage,
		rec.ImageBytes,
		rec.DurationMS,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation %s: %w", rec.ID, err)
	}
	return nil
}

// RecentGenerations returns up to limit records, newest first. A
// non-positive limit defaults to 10.
func (r *Repository) RecentGenerations(ctx context.Context, limit int) ([]GenerationRecord, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if limit <= 0 {
		limit = 10
	}

	const query = `
		SELECT id, model, prompt, size, steps, cfg_scale, seed,
		       status, error_kind, error_message, image_bytes, duration_ms, created_at
		FROM generation_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation history: %w", err)
	}
	defer rows.Close()

	var records []GenerationRecord
	for rows.Next() {
		var rec GenerationRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.Model,
			&rec.Prompt,
			&rec.Size,
			&rec.Steps,
			&rec.CfgScale,
			&rec.Seed,
			&rec.Status,
			&rec.ErrorKind,
			&rec.ErrorMessage,
			&rec.ImageBytes,
			&rec.DurationMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation record: %w", err)
		}

		rec.CreatedAt, err = time.ParseInLocation(timeLayout, createdAt, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation records: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of records per status.
func (r *Repository) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM generation_history GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
