package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"sdcpp_server/sdruntime"
	"sdcpp_server/shutdown"
)

const unauthorizedMessage = "Invalid or missing authorization token"

// errorBody is the OpenAI-style error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: s.now().Unix(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	// Authenticate before touching the body.
	if !s.auth.CheckRequest(r) {
		writeError(w, http.StatusUnauthorized, sdruntime.KindInvalidRequest, unauthorizedMessage)
		return
	}

	req, status, msg := s.decodeRequest(w, r)
	if status != http.StatusOK {
		writeError(w, status, sdruntime.KindInvalidRequest, msg)
		return
	}

	var result *sdruntime.Result
	run := func(ctx context.Context) error {
		var genErr error
		result, genErr = s.generator.Generate(ctx, req)
		return genErr
	}

	var err error
	if s.guard != nil {
		err = s.guard.WrapOperation(r.Context(), "generation", run)
	} else {
		err = run(r.Context())
	}

	if err != nil {
		s.writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeRequest parses the body into a GenerationRequest with defaults
// applied. On failure it returns the status and message to respond with.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (sdruntime.GenerationRequest, int, string) {
	req := sdruntime.NewGenerationRequest()

	body := r.Body
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)
		}
		return req, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err)
	}
	return req, http.StatusOK, ""
}

func (s *Server) writeGenerationError(w http.ResponseWriter, err error) {
	if errors.Is(err, shutdown.ErrTrackerClosed) {
		writeError(w, http.StatusInternalServerError, sdruntime.KindServer, "Server is shutting down")
		return
	}

	genErr := sdruntime.AsGenerationError(err)
	status := http.StatusInternalServerError
	if genErr.Kind == sdruntime.KindInvalidRequest {
		status = http.StatusBadRequest
	}
	writeError(w, status, genErr.Kind, genErr.Message)
}

func writeError(w http.ResponseWriter, status int, kind sdruntime.ErrorKind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: string(kind)}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
