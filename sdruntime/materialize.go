package sdruntime

import (
	"encoding/base64"
	"os"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/logging"
)

// Artifact describes the output file consumed by Materialize.
type Artifact struct {
	Bytes      int
	CleanupErr error
}

// Materialize reads the generated image at path, encodes it with standard
// padded base64 and removes the file. A failed read returns a server error
// and leaves the file alone; a failed removal is logged and reported in
// Artifact.CleanupErr, never as an error.
//
// created is the request start time and becomes Result.Created.
func Materialize(path string, created time.Time, logger *logging.Logger) (*Result, Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Artifact{}, serverError(ErrOutputUnreadable, "Failed to read output image: %v", err)
	}
	artifact := Artifact{Bytes: len(data)}

	if !IsPNG(data) {
		logger.Warn("generator output is not a PNG",
			zap.String("path", path),
			zap.Int("bytes", len(data)),
		)
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	if err := os.Remove(path); err != nil {
		logger.Warn("failed to remove output image",
			zap.String("path", path),
			zap.Error(err),
		)
		artifact.CleanupErr = err
	}

	return &Result{
		Created: created.Unix(),
		Data:    []ImageData{{B64JSON: encoded}},
	}, artifact, nil
}
