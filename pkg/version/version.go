// Package version carries build information stamped in with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func GetVersionInfo() string {
	return fmt.Sprintf("rey-go version %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}

// UserAgent identifies the client in HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("rey-go/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
