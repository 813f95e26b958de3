package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/core"
	"sdcpp_server/logging"
)

// OutputPattern matches generator output files in the cache directory.
const OutputPattern = "sd_output_*.png"

// CleanupStaleOutputs returns a shutdown function that removes generator
// outputs left in cacheDir by runs that never got materialized (a crash or
// a shutdown timeout). Files modified less than minAge ago are kept.
//
// Failures are logged, never returned, so shutdown continues.
func CleanupStaleOutputs(logger *logging.Logger, cacheDir string, minAge time.Duration) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removed, failed := RemoveStaleOutputs(ctx, logger, cacheDir, minAge)
		if removed > 0 || failed > 0 {
			logger.Info("stale output cleanup complete",
				zap.String("directory", cacheDir),
				zap.Int("removed", removed),
				zap.Int("failed", failed),
			)
		}
		return nil
	}
}

// RemoveStaleOutputs deletes matching files older than minAge and returns
// how many were removed and how many could not be.
func RemoveStaleOutputs(ctx context.Context, logger *logging.Logger, cacheDir string, minAge time.Duration) (removed, failed int) {
	matches, err := filepath.Glob(filepath.Join(cacheDir, OutputPattern))
	if err != nil {
		logger.Error("failed to list generator outputs", zap.String("directory", cacheDir), zap.Error(err))
		return 0, 0
	}

	cutoff := time.Now().Add(-minAge)
	for _, path := range matches {
		if ctx.Err() != nil {
			logger.Warn("shutdown deadline reached during output cleanup",
				zap.Int("removed", removed),
			)
			return removed, failed
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			failed++
			logger.Warn("failed to remove stale output", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		removed++
		logger.Debug("removed stale output", zap.String("file", filepath.Base(path)))
	}
	return removed, failed
}
