package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in log output.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credential-shaped substrings inside free-form
// values such as error messages and command lines.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+[^\s"',;]+)`),
	regexp.MustCompile(`(?i)(authorization\s*[:=]\s*[^\s,;]+)`),
	regexp.MustCompile(`(?i)(sd_cpp_server_token\s*=\s*[^\s,;]+)`),
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),
}

// sensitiveFieldNames are substrings of field names whose values are never
// logged.
var sensitiveFieldNames = []string{
	"SD_CPP_SERVER_TOKEN",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData replaces every credential-shaped substring of value
// with RedactedPlaceholder.
//
// Example:
//
//	RedactSensitiveData("header was Bearer s3cr3t")
//	// "header was [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}

	result := value
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, RedactedPlaceholder)
	}
	return result
}

// IsSensitiveField reports whether a field or variable name denotes a secret.
//
//	IsSensitiveField("SD_CPP_SERVER_TOKEN")  // true
//	IsSensitiveField("model")                // false
func IsSensitiveField(fieldName string) bool {
	upperName := strings.ToUpper(fieldName)

	for _, name := range sensitiveFieldNames {
		if strings.Contains(upperName, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value contains any credential-shaped
// substring.
func ContainsSensitiveData(value string) bool {
	if value == "" {
		return false
	}

	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
