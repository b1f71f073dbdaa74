// Package version carries the daemon's build version and the comparison
// helpers a client uses to detect a protocol-incompatible daemon after the
// RPC handshake.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the daemon's released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/hrygo/pueued/internal/version.Version=v0.5.0"
//
// Semantic versioning: https://semver.org/
var Version = "0.0.0-dev"

// GitCommit is the git commit hash at build time.
// Set via ldflags: -X github.com/hrygo/pueued/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
// Set via ldflags: -X github.com/hrygo/pueued/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var BuildTime = "unknown"

// IsGreaterOrEqualThan returns true if version is greater than or equal to target.
// Both arguments are bare "major.minor.patch" strings, without a leading "v".
func IsGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(normalize(version), normalize(target)) >= 0
}

// IsGreaterThan returns true if version is strictly greater than target.
func IsGreaterThan(version, target string) bool {
	return semver.Compare(normalize(version), normalize(target)) > 0
}

// Mismatch reports whether a daemon's handshake version string differs from
// the client's own version. It never returns an error: per spec.md §4.E the
// client only warns on mismatch, it never refuses to proceed.
func Mismatch(daemonVersion, clientVersion string) bool {
	return normalize(daemonVersion) != normalize(clientVersion)
}

func normalize(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// String returns the version string with a short commit suffix, when known.
func String() string {
	v := Version
	if GitCommit != "" && GitCommit != "unknown" {
		short := GitCommit
		if len(short) > 8 {
			short = short[:8]
		}
		v = fmt.Sprintf("%s-%s", v, short)
	}
	return v
}

// StringFull returns the complete version information including build metadata.
func StringFull() string {
	parts := []string{fmt.Sprintf("Version=%s", Version)}
	if GitCommit != "" && GitCommit != "unknown" {
		short := GitCommit
		if len(short) > 8 {
			short = short[:8]
		}
		parts = append(parts, fmt.Sprintf("Commit=%s", short))
	}
	if BuildTime != "" && BuildTime != "unknown" {
		parts = append(parts, fmt.Sprintf("BuildTime=%s", BuildTime))
	}
	return strings.Join(parts, " ")
}
