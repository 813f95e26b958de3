package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult describes one retention pass.
type CleanupResult struct {
	Deleted  int64
	Duration time.Duration
}

// Cleanup deletes history older than retentionDays. Zero keeps only
// today's records.
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	start := time.Now()
	if retentionDays < 0 {
		return CleanupResult{}, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}

	res, err := d.ExecContext(ctx,
		`DELETE FROM generation_history WHERE created_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", retentionDays),
	)
	if err != nil {
		return CleanupResult{Duration: time.Since(start)}, fmt.Errorf("failed to delete old generations: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{Duration: time.Since(start)}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return CleanupResult{Deleted: deleted, Duration: time.Since(start)}, nil
}

// CleanupSchedulerConfig configures StartCleanupScheduler.
type CleanupSchedulerConfig struct {
	RetentionDays int
	Interval      time.Duration
	// OnCleanup is called after each pass, including the initial one.
	OnCleanup func(result CleanupResult, err error)
}

// StartCleanupScheduler runs Cleanup immediately and then every Interval
// until ctx is done. The returned channel closes when the goroutine exits.
func (d *Database) StartCleanupScheduler(ctx context.Context, config CleanupSchedulerConfig) <-chan struct{} {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	done := make(chan struct{})

	run := func() {
		result, err := d.Cleanup(ctx, config.RetentionDays)
		if config.OnCleanup != nil {
			config.OnCleanup(result, err)
		}
	}

	go func() {
		defer close(done)
		run()

		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
	return done
}
