package sdruntime

import (
	"errors"
	"fmt"
)

// Sentinel errors for generation failures. Every error returned by the
// Generator wraps exactly one of them.
var (
	// Request validation
	ErrInvalidRequest = errors.New("sdruntime: invalid generation request")
	ErrInvalidPrompt  = errors.New("sdruntime: invalid prompt")
	ErrInvalidModel   = errors.New("sdruntime: invalid model")

	// Process execution
	ErrSpawnFailed       = errors.New("sdruntime: failed to start generator")
	ErrProcessFailed     = errors.New("sdruntime: generator exited with failure")
	ErrGenerationTimeout = errors.New("sdruntime: generation timed out")
	ErrOutputUnreadable  = errors.New("sdruntime: output image unreadable")

	// Admission
	ErrLimiterClosed      = errors.New("sdruntime: limiter is closed")
	ErrAdmissionTimeout   = errors.New("sdruntime: timed out waiting for a generation slot")
	ErrAdmissionCancelled = errors.New("sdruntime: request cancelled waiting for a generation slot")
	ErrShuttingDown       = errors.New("sdruntime: server is shutting down")
)

// ErrorKind is the client-facing error category.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request_error"
	KindServer         ErrorKind = "server_error"
)

// GenerationError is a failed generation with its client-facing kind and
// message. Message is returned to the client verbatim.
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func invalidRequest(sentinel error, format string, args ...any) *GenerationError {
	return &GenerationError{
		Kind:    KindInvalidRequest,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

func serverError(sentinel error, format string, args ...any) *GenerationError {
	return &GenerationError{
		Kind:    KindServer,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
}

// AsGenerationError converts any error into a *GenerationError. Errors that
// are not already one become server errors carrying err's text.
func AsGenerationError(err error) *GenerationError {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}
	return &GenerationError{Kind: KindServer, Message: err.Error(), Err: err}
}
