package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"sdcpp_server/logging"
	"sdcpp_server/sdruntime"
	"sdcpp_server/shutdown"
)

const testToken = "test-token"

var testImage = []byte("\x89PNG\r\n\x1a\nfake image payload")

// stubRunner stands in for the generator binary. On success it writes
// testImage to the -o path.
type stubRunner struct {
	mu     sync.Mutex
	calls  [][]string
	result sdruntime.RunResult
}

func (s *stubRunner) Run(ctx context.Context, binary string, args []string) sdruntime.RunResult {
	s.mu.Lock()
	s.calls = append(s.calls, slices.Clone(args))
	s.mu.Unlock()

	if s.result.Success() {
		if i := slices.Index(args, "-o"); i >= 0 {
			_ = os.WriteFile(args[i+1], testImage, 0o644)
		}
	}
	return s.result
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubRunner) lastCall(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("runner was never called")
	}
	return s.calls[len(s.calls)-1]
}

type guardFunc func(ctx context.Context, name string, fn func(context.Context) error) error

func (g guardFunc) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	return g(ctx, name, fn)
}

func newTestServer(t *testing.T, runner *stubRunner, opts ...Option) *Server {
	t.Helper()
	dir := t.TempDir()
	gen := sdruntime.NewGenerator(sdruntime.Options{
		BinaryPath: "sd",
		ModelsDir:  dir,
		CacheDir:   dir,
	}, logging.NewNop(), sdruntime.WithRunner(runner))

	cfg := DefaultServerConfig()
	cfg.Token = testToken
	cfg.MaxBodyBytes = 4096
	return NewServer(cfg, gen, logging.NewNop(), opts...)
}

func doRequest(t *testing.T, s *Server, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v: %s", err, w.Body.String())
	}
	return body.Error
}

func TestHealth(t *testing.T) {
	fixed := time.Unix(1712345678, 0)
	s := newTestServer(t, &stubRunner{}, WithClock(func() time.Time { return fixed }))

	w := doRequest(t, s, http.MethodGet, "/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Timestamp != fixed.Unix() {
		t.Errorf("body = %+v", body)
	}
}

func TestHealth_IgnoresMissingBinary(t *testing.T) {
	// The stub runner would fail every generation; health must not care.
	s := newTestServer(t, &stubRunner{result: sdruntime.RunResult{SpawnErr: os.ErrNotExist, ExitCode: -1}})

	w := doRequest(t, s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestGenerate_Unauthorized(t *testing.T) {
	tests := []struct {
		name string
		auth string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer wrong"},
		{"wrong scheme", "Token " + testToken},
		{"lowercase bearer", "bearer " + testToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			s := newTestServer(t, runner)

			w := doRequest(t, s, http.MethodPost, generationsPath, tt.auth, `{"prompt":"a cat","model":"m.gguf"}`)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			detail := decodeError(t, w)
			if detail.Message != unauthorizedMessage || detail.Type != "invalid_request_error" {
				t.Errorf("error = %+v", detail)
			}
			if runner.callCount() != 0 {
				t.Error("generator ran for an unauthenticated request")
			}
		})
	}
}

func TestGenerate_UnauthorizedBeforeBodyParsing(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(t, runner)

	w := doRequest(t, s, http.MethodPost, generationsPath, "", "{not json")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad auth with a bad body", w.Code)
	}
}

func TestGenerate_Success(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(t, runner)

	body := `{"prompt":"a cat","model":"m.gguf","size":"768x512","steps":30,"cfg_scale":7.5,"seed":42,"negative_prompt":"blurry","n":1,"user":"bob"}`
	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result sdruntime.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Created <= 0 {
		t.Errorf("created = %d", result.Created)
	}
	if len(result.Data) != 1 {
		t.Fatalf("expected one image, got %d", len(result.Data))
	}
	decoded, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		t.Fatalf("b64_json is not standard base64: %v", err)
	}
	if !bytes.Equal(decoded, testImage) {
		t.Error("decoded image does not match generator output")
	}

	args := runner.lastCall(t)
	for _, want := range []string{"a cat", "30", "7.5", "42", "blurry", "768", "512"} {
		if !slices.Contains(args, want) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
}

func TestGenerate_AppliesDefaults(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(t, runner)

	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, `{"prompt":"a cat","model":"m.gguf"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	args := runner.lastCall(t)
	if i := slices.Index(args, "--steps"); i < 0 || args[i+1] != "20" {
		t.Errorf("default steps not applied: %v", args)
	}
	if i := slices.Index(args, "--cfg-scale"); i < 0 || args[i+1] != "7" {
		t.Errorf("default cfg scale not applied: %v", args)
	}
	if slices.Contains(args, "--seed") {
		t.Errorf("default seed should omit --seed: %v", args)
	}
	if i := slices.Index(args, "-W"); i < 0 || args[i+1] != "512" {
		t.Errorf("default size not applied: %v", args)
	}
}

func TestGenerate_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"malformed json", `{"prompt":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"wrong type", `{"prompt":"a","model":"m","steps":"many"}`, http.StatusBadRequest},
		{"negative steps", `{"prompt":"a","model":"m","steps":-1}`, http.StatusBadRequest},
		{"missing prompt", `{"model":"m.gguf"}`, http.StatusBadRequest},
		{"blank prompt", `{"prompt":"   ","model":"m.gguf"}`, http.StatusBadRequest},
		{"missing model", `{"prompt":"a cat"}`, http.StatusBadRequest},
		{"model escapes dir", `{"prompt":"a cat","model":"../secret.gguf"}`, http.StatusBadRequest},
		{"too large", `{"prompt":"` + strings.Repeat("x", 5000) + `","model":"m"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			s := newTestServer(t, runner)

			w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, tt.body)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if detail := decodeError(t, w); detail.Type != "invalid_request_error" || detail.Message == "" {
				t.Errorf("error = %+v", detail)
			}
			if runner.callCount() != 0 {
				t.Error("generator ran for an invalid request")
			}
		})
	}
}

func TestGenerate_ProcessFailure(t *testing.T) {
	runner := &stubRunner{result: sdruntime.RunResult{ExitCode: 1, Stderr: []byte("model not found")}}
	s := newTestServer(t, runner)

	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, `{"prompt":"a cat","model":"m.gguf"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	detail := decodeError(t, w)
	if detail.Type != "server_error" {
		t.Errorf("type = %q", detail.Type)
	}
	if !strings.Contains(detail.Message, "model not found") {
		t.Errorf("message %q should carry stderr", detail.Message)
	}
}

func TestGenerate_SpawnFailure(t *testing.T) {
	runner := &stubRunner{result: sdruntime.RunResult{SpawnErr: errors.New("exec: \"sd\": not found"), ExitCode: -1}}
	s := newTestServer(t, runner)

	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, `{"prompt":"a cat","model":"m.gguf"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if detail := decodeError(t, w); !strings.HasPrefix(detail.Message, "Failed to execute sd command") {
		t.Errorf("message = %q", detail.Message)
	}
}

func TestGenerate_ShuttingDown(t *testing.T) {
	runner := &stubRunner{}
	closed := guardFunc(func(context.Context, string, func(context.Context) error) error {
		return shutdown.ErrTrackerClosed
	})
	s := newTestServer(t, runner, WithOperationGuard(closed))

	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, `{"prompt":"a cat","model":"m.gguf"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if detail := decodeError(t, w); detail.Message != "Server is shutting down" || detail.Type != "server_error" {
		t.Errorf("error = %+v", detail)
	}
	if runner.callCount() != 0 {
		t.Error("generator ran during shutdown")
	}
}

func TestGenerate_RunsInsideGuard(t *testing.T) {
	var names []string
	guard := guardFunc(func(ctx context.Context, name string, fn func(context.Context) error) error {
		names = append(names, name)
		return fn(ctx)
	})
	s := newTestServer(t, &stubRunner{}, WithOperationGuard(guard))

	w := doRequest(t, s, http.MethodPost, generationsPath, "Bearer "+testToken, `{"prompt":"a cat","model":"m.gguf"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !slices.Equal(names, []string{"generation"}) {
		t.Errorf("guarded operations = %v", names)
	}
}

func TestRouting(t *testing.T) {
	s := newTestServer(t, &stubRunner{})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, generationsPath, http.StatusMethodNotAllowed},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/models", http.StatusNotFound},
		{http.MethodGet, "/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := doRequest(t, s, tt.method, tt.path, "Bearer "+testToken, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequestRecorderSeesRoutes(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestServer(t, &stubRunner{}, WithRequestRecorder(rec))

	doRequest(t, s, http.MethodPost, generationsPath, "", "{}")

	got := rec.last(t)
	if got.route != generationsPath || got.method != http.MethodPost || got.status != http.StatusUnauthorized {
		t.Errorf("recorded %+v", got)
	}
}

func TestOpenAIClientCompatibility(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(t, runner)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cfg := openai.DefaultConfig(testToken)
	cfg.BaseURL = srv.URL + "/v1"
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateImage(context.Background(), openai.ImageRequest{
		Prompt:         "a lighthouse at dusk",
		Model:          "m.gguf",
		Size:           openai.CreateImageSize256x256,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	})
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("expected one image, got %d", len(resp.Data))
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil || !bytes.Equal(decoded, testImage) {
		t.Errorf("unexpected image payload (err=%v)", err)
	}
	if args := runner.lastCall(t); !slices.Contains(args, "256") {
		t.Errorf("size not forwarded: %v", args)
	}
}

func TestOpenAIClientSeesAPIErrors(t *testing.T) {
	s := newTestServer(t, &stubRunner{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cfg := openai.DefaultConfig("wrong-token")
	cfg.BaseURL = srv.URL + "/v1"
	client := openai.NewClientWithConfig(cfg)

	_, err := client.CreateImage(context.Background(), openai.ImageRequest{Prompt: "x", Model: "m.gguf"})

	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *openai.APIError, got %T: %v", err, err)
	}
	if apiErr.HTTPStatusCode != http.StatusUnauthorized || apiErr.Type != "invalid_request_error" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Message != unauthorizedMessage {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t, &stubRunner{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() returned %v after graceful shutdown", err)
	}
}
