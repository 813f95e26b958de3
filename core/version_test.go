package core

import "testing"

func TestVersionInfo(t *testing.T) {
	oldVersion, oldCommit, oldBuilt := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldBuilt })

	if got := VersionInfo(); got != "dev (commit unknown, built unknown)" {
		t.Errorf("default VersionInfo() = %q", got)
	}

	Version, GitCommit, BuildTime = "v1.2.0", "abc1234", "2024-04-05T10:00:00Z"
	if got := VersionInfo(); got != "v1.2.0 (commit abc1234, built 2024-04-05T10:00:00Z)" {
		t.Errorf("VersionInfo() = %q", got)
	}
}
