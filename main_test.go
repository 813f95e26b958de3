package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"sdcpp_server/core"
	"sdcpp_server/db"
	"sdcpp_server/logging"
	"sdcpp_server/sdruntime"
	"sdcpp_server/shutdown"
)

// fakeSD writes a PNG header to the path following -o.
const fakeSD = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; fi
  shift
done
printf '\211PNG\r\n\032\nfake image' > "$out"
`

func writeFakeBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "sd")
	if err := os.WriteFile(path, []byte(fakeSD), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, binary string) *core.Config {
	t.Helper()
	dir := t.TempDir()
	return &core.Config{
		Host:                 "127.0.0.1",
		Port:                 0,
		Token:                "test-token",
		BinaryPath:           binary,
		ModelsDir:            dir,
		CacheDir:             dir,
		MaxBodyBytes:         1 << 20,
		MaxConcurrent:        1,
		HistoryDB:            filepath.Join(dir, "history.db"),
		HistoryRetentionDays: 30,
		MetricsAddr:          "127.0.0.1:0",
		ShutdownTimeout:      5 * time.Second,
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SD_CPP_SERVER_PORT", "8080")
	t.Setenv("SD_CPP_SERVER_TOKEN", "secret")
	t.Setenv("SD_CPP_SERVER_BINARY", "/usr/local/bin/sd")
	t.Setenv("SD_CPP_SERVER_MODELS", "/models")
}

func TestLoadConfiguration(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)

	var out bytes.Buffer
	cfg, code := loadConfiguration(&out)

	if code != core.ExitCodeSuccess {
		t.Fatalf("code = %d, output: %s", code, out.String())
	}
	if cfg.Port != 8080 || cfg.Token != "secret" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfiguration_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	setRequiredEnv(t)
	os.Unsetenv("SD_CPP_SERVER_PORT")

	if err := os.WriteFile(filepath.Join(dir, envFile), []byte("SD_CPP_SERVER_PORT=9191\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cfg, code := loadConfiguration(&out)

	if code != core.ExitCodeSuccess {
		t.Fatalf("code = %d, output: %s", code, out.String())
	}
	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191 from %s", cfg.Port, envFile)
	}
}

func TestChdirToExecutable_FindsEnvFile(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	os.Unsetenv("SD_CPP_SERVER_PORT")

	installDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(installDir, envFile), []byte("SD_CPP_SERVER_PORT=9292\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	executable := func() (string, error) {
		return filepath.Join(installDir, "sd-cpp-server.exe"), nil
	}

	dir, err := chdirToExecutable(executable)
	if err != nil {
		t.Fatalf("chdirToExecutable() error = %v", err)
	}
	if dir != installDir {
		t.Errorf("dir = %q, want %q", dir, installDir)
	}

	var out bytes.Buffer
	cfg, code := loadConfiguration(&out)
	if code != core.ExitCodeSuccess {
		t.Fatalf("code = %d, output: %s", code, out.String())
	}
	if cfg.Port != 9292 {
		t.Errorf("Port = %d, want 9292 from the executable's %s", cfg.Port, envFile)
	}
}

func TestChdirToExecutable_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := chdirToExecutable(func() (string, error) { return "", errors.New("no exe") }); err == nil {
		t.Error("chdirToExecutable() = nil, want error when the executable is unknown")
	}
	missing := filepath.Join(t.TempDir(), "gone", "sd-cpp-server")
	if _, err := chdirToExecutable(func() (string, error) { return missing, nil }); err == nil {
		t.Error("chdirToExecutable() = nil, want error for a missing directory")
	}
}

func TestLoadConfiguration_MissingVariable(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequiredEnv(t)
	t.Setenv("SD_CPP_SERVER_TOKEN", "")

	var out bytes.Buffer
	cfg, code := loadConfiguration(&out)

	if code != core.ExitCodeError {
		t.Fatalf("code = %d, want %d", code, core.ExitCodeError)
	}
	if cfg != nil {
		t.Error("cfg should be nil on failure")
	}
	if !strings.Contains(out.String(), "SD_CPP_SERVER_TOKEN") {
		t.Errorf("output should name the variable: %q", out.String())
	}
}

func TestPrintConfigError(t *testing.T) {
	var out bytes.Buffer
	printConfigError(&out, core.ErrInvalidConfig("SD_CPP_SERVER_PORT", "0", "port must be between 1 and 65535"))

	got := out.String()
	if !strings.Contains(got, "configuration error:") || !strings.Contains(got, "Fix SD_CPP_SERVER_PORT") {
		t.Errorf("output = %q", got)
	}
}

func TestRunStartupValidation(t *testing.T) {
	cfg := testConfig(t, writeFakeBinary(t))

	if code := runStartupValidation(cfg, logging.NewNop(), io.Discard); code != core.ExitCodeSuccess {
		t.Errorf("code = %d, want success", code)
	}
}

func TestRunStartupValidation_MissingBinary(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "does-not-exist"))

	if code := runStartupValidation(cfg, logging.NewNop(), io.Discard); code != core.ExitCodeError {
		t.Errorf("code = %d, want %d", code, core.ExitCodeError)
	}
}

func TestRunStartupValidation_BinaryFromPath(t *testing.T) {
	binary := writeFakeBinary(t)
	t.Setenv("PATH", filepath.Dir(binary))
	cfg := testConfig(t, "sd")

	if code := runStartupValidation(cfg, logging.NewNop(), io.Discard); code != core.ExitCodeSuccess {
		t.Fatalf("code = %d, want success for a binary found in PATH", code)
	}

	out := filepath.Join(cfg.CacheDir, "check.png")
	run := sdruntime.NewExecRunner().Run(context.Background(), cfg.BinaryPath, []string{"-o", out})
	if !run.Success() {
		t.Fatalf("runner could not execute %q: spawn=%v exit=%d", cfg.BinaryPath, run.SpawnErr, run.ExitCode)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testConfig(t, writeFakeBinary(t))
	manager := shutdown.NewManager(logging.NewNop(), shutdown.WithTimeout(cfg.ShutdownTimeout))

	a, err := newApp(context.Background(), cfg, logging.NewNop(), manager)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.run() }()

	body := strings.NewReader(`{"prompt":"a red fox","model":"model.gguf","size":"64x64"}`)
	req, _ := http.NewRequest(http.MethodPost, "http://"+a.APIAddr()+"/v1/images/generations", body)
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	var result struct {
		Created int64 `json:"created"`
		Data    []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || decodeErr != nil {
		t.Fatalf("status = %d, decode error = %v", resp.StatusCode, decodeErr)
	}
	if len(result.Data) != 1 || result.Data[0].B64JSON == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	scrape, err := http.Get("http://" + a.metricsListener.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	exposition, _ := io.ReadAll(scrape.Body)
	scrape.Body.Close()
	for _, name := range []string{"sdcpp_server_generations_total", "sdcpp_server_http_requests_total", "sdcpp_server_generation_slots_in_use"} {
		if !bytes.Contains(exposition, []byte(name)) {
			t.Errorf("metrics exposition missing %s", name)
		}
	}

	manager.Trigger()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after shutdown")
	}

	leftovers, _ := filepath.Glob(filepath.Join(cfg.CacheDir, "sd_output_*.png"))
	if len(leftovers) != 0 {
		t.Errorf("output files left behind: %v", leftovers)
	}

	history, err := db.Open(context.Background(), cfg.HistoryDB)
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	records, err := db.NewRepository(history).RecentGenerations(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Status != db.StatusSuccess || records[0].Model != "model.gguf" {
		t.Errorf("history = %+v", records)
	}
}

func TestNewApp_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := testConfig(t, writeFakeBinary(t))
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	manager := shutdown.NewManager(logging.NewNop())
	if _, err := newApp(context.Background(), cfg, logging.NewNop(), manager); err == nil {
		t.Fatal("newApp() error = nil, want listen failure")
	}
}

func TestApp_ShutdownRegistrations(t *testing.T) {
	cfg := testConfig(t, writeFakeBinary(t))
	manager := shutdown.NewManager(logging.NewNop())

	a, err := newApp(context.Background(), cfg, logging.NewNop(), manager)
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeEarly()

	want := []string{"generation-limiter", "http-server", "metrics-server", "history-writer", "history-db", "stale-outputs", "logger"}
	if got := manager.RegisteredHandlers(); !slices.Equal(got, want) {
		t.Errorf("RegisteredHandlers() = %v, want %v", got, want)
	}
}

