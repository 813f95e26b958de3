// Package logging provides the zap-based structured logger used by the
// server, plus field helpers for generation requests and HTTP traffic.
package logging

import (
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationSummary describes one generation attempt for structured logs.
type GenerationSummary struct {
	RequestID  string
	Model      string
	Size       string
	Steps      uint32
	CfgScale   float32
	Seed       int64
	Status     string
	ErrorKind  string
	ImageBytes int
	Duration   time.Duration
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s GenerationSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", s.RequestID)
	enc.AddString("model", s.Model)
	enc.AddString("size", s.Size)
	enc.AddUint32("steps", s.Steps)
	enc.AddFloat32("cfg_scale", s.CfgScale)
	enc.AddInt64("seed", s.Seed)
	enc.AddString("status", s.Status)
	if s.ErrorKind != "" {
		enc.AddString("error_kind", s.ErrorKind)
	}
	if s.ImageBytes > 0 {
		enc.AddInt("image_bytes", s.ImageBytes)
	}
	enc.AddDuration("duration", s.Duration)
	return nil
}

// GenerationFields wraps a summary into a single "generation" object field.
//
// Example:
//
//	logger.Info("generation complete", logging.GenerationFields(summary))
func GenerationFields(s GenerationSummary) zap.Field {
	return zap.Object("generation", s)
}

// HTTPFields returns the access-log fields for one request.
func HTTPFields(method, path string, status int, bytes int64, duration time.Duration, remote string) []zap.Field {
	return []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int64("bytes", bytes),
		zap.Duration("duration", duration),
		zap.String("remote_addr", remote),
	}
}

// CommandFields logs the generator invocation with each argument redacted.
// Prompt values (after -p and -n) are replaced by their length.
func CommandFields(binary string, args []string) []zap.Field {
	redacted := make([]string, len(args))
	for i, arg := range args {
		if i > 0 && (args[i-1] == "-p" || args[i-1] == "-n") {
			redacted[i] = fmt.Sprintf("[%d chars]", utf8.RuneCountInString(arg))
			continue
		}
		redacted[i] = RedactSensitiveData(arg)
	}
	return []zap.Field{
		zap.String("binary", binary),
		zap.Strings("args", redacted),
	}
}
