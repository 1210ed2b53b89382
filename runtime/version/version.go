// Package version reports the build metadata of the running binary.
package version

import (
	"fmt"
	"runtime"
)

// The value of these vars are set through linker options.
var gitCommit = "local"
var buildDate = "unknown"
var gitTag = "dev"

// GetVersion returns the version string of this build.
func GetVersion() string {
	return fmt.Sprintf("dex-indexer/%s/%s built %s with %s", gitTag, gitCommit, buildDate, runtime.Version())
}

// GetBuildData returns the git tag and commit of the current build.
func GetBuildData() string {
	return fmt.Sprintf("%s/%s", gitTag, gitCommit)
}
