// Package sdruntime bridges generation requests to the stable-diffusion.cpp
// command line tool.
//
// A request flows through four steps:
//
//   - Validate checks the prompt and model name.
//   - BuildArgs turns the request into an argument vector. Arguments are
//     passed to the process as discrete tokens; no shell is involved.
//   - A Runner executes the binary, discarding stdout and capturing stderr.
//   - Materialize reads the output PNG, base64-encodes it and removes the file.
//
// Generator ties these together and adds an optional Limiter for admission
// control plus an optional per-process timeout.
//
// # Quick Start
//
//	gen := sdruntime.NewGenerator(sdruntime.Options{
//	    BinaryPath: "/opt/sd/sd",
//	    ModelsDir:  "/srv/models",
//	    CacheDir:   os.TempDir(),
//	}, logger)
//
//	req := sdruntime.NewGenerationRequest()
//	req.Prompt = "a cat"
//	req.Model = "sd-v1.ckpt"
//
//	result, err := gen.Generate(ctx, req)
//	if err != nil {
//	    genErr := sdruntime.AsGenerationError(err)
//	    // genErr.Kind is invalid_request_error or server_error
//	}
//
// # Errors
//
// Every error returned by Generate is a *GenerationError. Its Message is
// safe to show to clients and Unwrap yields one of the package sentinels
// (ErrInvalidPrompt, ErrProcessFailed, ...), so callers can use errors.Is.
//
// # Cancellation
//
// By default the generator process is not tied to the caller's context: a
// client that disconnects does not kill a running generation. Set
// Options.CancelOnDisconnect to change that and Options.Timeout to bound
// every run.
package sdruntime
