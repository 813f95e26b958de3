package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultFileWriterConfig(t *testing.T) {
	cfg := DefaultFileWriterConfig()
	if cfg.MaxSizeMB != DefaultMaxSizeMB {
		t.Errorf("MaxSizeMB = %d, want %d", cfg.MaxSizeMB, DefaultMaxSizeMB)
	}
	if cfg.MaxBackups != DefaultMaxBackups {
		t.Errorf("MaxBackups = %d, want %d", cfg.MaxBackups, DefaultMaxBackups)
	}
	if cfg.MaxAgeDays != DefaultMaxAgeDays {
		t.Errorf("MaxAgeDays = %d, want %d", cfg.MaxAgeDays, DefaultMaxAgeDays)
	}
	if !cfg.Compress {
		t.Error("Compress = false, want true")
	}
}

func TestApplyFileWriterDefaults(t *testing.T) {
	got := applyFileWriterDefaults(FileWriterConfig{MaxSizeMB: 7, MaxBackups: -1})
	if got.MaxSizeMB != 7 {
		t.Errorf("MaxSizeMB = %d, want 7", got.MaxSizeMB)
	}
	if got.MaxBackups != DefaultMaxBackups {
		t.Errorf("MaxBackups = %d, want default", got.MaxBackups)
	}
	if got.MaxAgeDays != DefaultMaxAgeDays {
		t.Errorf("MaxAgeDays = %d, want default", got.MaxAgeDays)
	}
}

func TestNewFileWriterWithConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotating.log")
	w := NewFileWriterWithConfig(path, FileWriterConfig{MaxSizeMB: 1})

	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "line\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestEnsureLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "server.log")
	if err := ensureLogDir(path); err != nil {
		t.Fatalf("ensureLogDir() error: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
	if err := ensureLogDir("server.log"); err != nil {
		t.Errorf("ensureLogDir(bare name) = %v", err)
	}
}
