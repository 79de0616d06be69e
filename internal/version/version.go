package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version (set by ldflags during build)
	Version = "dev"

	// GitCommit is the git commit hash (set by ldflags during build)
	GitCommit = ""

	// BuildDate is the build date (set by ldflags during build)
	BuildDate = ""
)

// Info represents version and build information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:   getVersion(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the info as a single human-readable line.
func (i Info) String() string {
	s := i.Version
	if i.GitCommit != "" && len(i.GitCommit) >= 7 {
		s = fmt.Sprintf("%s (%s)", s, i.GitCommit[:7])
	}
	return fmt.Sprintf("%s %s %s", s, i.GoVersion, i.Platform)
}

// getVersion returns the version, falling back to build info if ldflags version is not set
func getVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}

	return "dev"
}
