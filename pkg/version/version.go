// Package version reports build information for tablerag.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set via ldflags:
//
//	-X github.com/Aman-CERP/tablerag/pkg/version.Version=v0.3.0
//	-X github.com/Aman-CERP/tablerag/pkg/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/Aman-CERP/tablerag/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"

	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the one-line version banner.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("tablerag %s (commit: %s, built: %s, go: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information. Without ldflags the
// commit falls back to the VCS revision recorded by the go tool.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if info.Commit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.Commit = rev
		}
	}
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}
