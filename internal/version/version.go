// Package version carries build metadata stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name used in version strings and User-Agent headers.
const Name = "multiclube"

// Set with -ldflags, e.g.
//
//	-X github.com/soyeahso/multiclube/internal/version.Version=1.4.0
//	-X github.com/soyeahso/multiclube/internal/version.Commit=$(git rev-parse HEAD)
//	-X github.com/soyeahso/multiclube/internal/version.Date=$(date -u +%F)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the one-line string printed by the version command.
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s/%s)",
		Name, Version, shortCommit(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the gateway to the ticketing provider.
func UserAgent() string {
	return Name + "/" + Version
}

func shortCommit(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
