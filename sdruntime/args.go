package sdruntime

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutputPath returns a per-request PNG path in cacheDir. The Unix timestamp
// keeps files sortable; the random suffix keeps concurrent requests in the
// same second apart.
func OutputPath(cacheDir string, started time.Time) string {
	name := fmt.Sprintf("sd_output_%d_%s.png", started.Unix(), uuid.NewString())
	return filepath.Join(cacheDir, name)
}

// BuildArgs translates a validated request into the generator's argument
// vector:
//
//	[fixed...] -m <models>/<model> -p <prompt> -o <output> --steps <n> --cfg-scale <f>
//	[--seed <n>] [-n <negative>] [-W <w> -H <h>]
//
// Each element is a single argv entry; nothing is interpreted by a shell.
func BuildArgs(fixed []string, modelsDir string, req GenerationRequest, outputPath string) []string {
	args := make([]string, 0, len(fixed)+16)
	args = append(args, fixed...)

	args = append(args,
		"-m", filepath.Join(modelsDir, req.Model),
		"-p", req.Prompt,
		"-o", outputPath,
		"--steps", strconv.FormatUint(uint64(req.Steps), 10),
		"--cfg-scale", FormatCfgScale(req.CfgScale),
	)

	if req.Seed >= 0 {
		args = append(args, "--seed", strconv.FormatInt(req.Seed, 10))
	}

	if req.NegativePrompt != nil {
		args = append(args, "-n", *req.NegativePrompt)
	}

	if w, h, ok := ParseSize(req.Size); ok {
		args = append(args, "-W", w, "-H", h)
	}

	return args
}

// FormatCfgScale renders the shortest decimal that round-trips the float32
// value: 7 for 7.0, 7.5 for 7.5.
func FormatCfgScale(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// ParseSize splits "WxH" into its width and height strings. It reports false
// unless there are exactly two non-empty, all-digit components.
func ParseSize(size string) (width, height string, ok bool) {
	parts := strings.Split(size, "x")
	if len(parts) != 2 {
		return "", "", false
	}
	if !isDigits(parts[0]) || !isDigits(parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
