package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewConsoleCore creates a core that writes only to the console writer.
//
// Development mode uses the colored console encoder, production mode uses
// JSON so that log shippers can parse stdout directly.
func NewConsoleCore(level zapcore.Level, consoleWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	return zapcore.NewCore(consoleEncoder(isDev), consoleWriter, level)
}

// NewMultiCoreWithWriters creates a zapcore.Core that tees output to the
// console writer and the file writer.
//
// The file output always uses JSON encoding. The console output follows
// NewConsoleCore.
//
// Example:
//
//	var buf bytes.Buffer
//	core := NewMultiCoreWithWriters(zapcore.DebugLevel, os.Stdout, zapcore.AddSync(&buf), true)
//	logger := NewLoggerFromCore(core)
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)

	return zapcore.NewTee(NewConsoleCore(level, consoleWriter, isDev), fileCore)
}

func consoleEncoder(isDev bool) zapcore.Encoder {
	if isDev {
		return zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	}
	return zapcore.NewJSONEncoder(NewEncoderConfig())
}
