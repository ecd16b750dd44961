// Package version reports the skillgate build identity.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is set at build time with -ldflags.
	Version = "dev"

	// GitCommit is set at build time. When left unset, the vcs revision
	// recorded by the Go toolchain is used instead.
	GitCommit = "unknown"
)

// Info represents version information
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
}

// Get returns the version information
func Get() Info {
	commit := GitCommit
	if commit == "unknown" {
		if rev, ok := vcsRevision(); ok {
			commit = rev
		}
	}
	return Info{
		Version:   Version,
		GitCommit: commit,
		GoVersion: runtime.Version(),
	}
}

func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}

// String returns the string representation of version info
func (i Info) String() string {
	return fmt.Sprintf("skillgate %s (commit %s, %s)", i.Version, i.GitCommit, i.GoVersion)
}

// JSON returns the JSON representation of version info
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
