package sdruntime

import (
	"path/filepath"
	"strings"
)

// Request defaults applied before the body is decoded.
const (
	DefaultSize     = "512x512"
	DefaultSteps    = 20
	DefaultCfgScale = 7.0
	DefaultSeed     = -1
)

// GenerationRequest is the body of POST /v1/images/generations.
// Unknown fields (n, response_format, user) are accepted and ignored so
// OpenAI clients can talk to the server unchanged.
type GenerationRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model"`
	Size           string  `json:"size"`
	NegativePrompt *string `json:"negative_prompt,omitempty"`
	Steps          uint32  `json:"steps"`
	CfgScale       float32 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
}

// NewGenerationRequest returns a request with every optional field set to
// its default. Decode JSON into it so absent fields keep the defaults.
func NewGenerationRequest() GenerationRequest {
	return GenerationRequest{
		Size:     DefaultSize,
		Steps:    DefaultSteps,
		CfgScale: DefaultCfgScale,
		Seed:     DefaultSeed,
	}
}

// Validate checks the required fields. It returns a *GenerationError of
// kind invalid_request_error.
func (r GenerationRequest) Validate() error {
	if err := ValidatePrompt(r.Prompt); err != nil {
		return err
	}
	if err := ValidateModel(r.Model); err != nil {
		return err
	}
	if r.NegativePrompt != nil && strings.ContainsRune(*r.NegativePrompt, '\x00') {
		return invalidRequest(ErrInvalidRequest, "negative_prompt contains null bytes")
	}
	if strings.ContainsRune(r.Size, '\x00') {
		return invalidRequest(ErrInvalidRequest, "size contains null bytes")
	}
	return nil
}

// ValidateModel requires a non-empty model name that stays inside the
// models directory once joined to it.
func ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return invalidRequest(ErrInvalidModel, "model is required")
	}
	if strings.ContainsRune(model, '\x00') {
		return invalidRequest(ErrInvalidModel, "model contains null bytes")
	}
	if filepath.IsAbs(model) || !filepath.IsLocal(model) {
		return invalidRequest(ErrInvalidModel, "model %q must name a file inside the models directory", model)
	}
	return nil
}

// ImageData is one generated image.
type ImageData struct {
	B64JSON string `json:"b64_json"`
}

// Result is a successful generation: the request start time in Unix
// seconds and the encoded image.
type Result struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}
