package core

// Build metadata, injected with ldflags:
//
//	go build -ldflags "-X sdcpp_server/core.Version=$(git describe --tags --always) \
//	  -X sdcpp_server/core.GitCommit=$(git rev-parse --short HEAD) \
//	  -X sdcpp_server/core.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" .
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// VersionInfo returns e.g. "v1.2.0 (commit abc1234, built 2024-04-05T10:00:00Z)".
func VersionInfo() string {
	return Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
