package redisnode

import "runtime/debug"

// Version is the current version of the redis-inmemory-node library.
const Version = "0.3.0"

// GitCommit and BuildTime are set by build flags. When empty, the VCS
// settings stamped by the go command are used instead.
var (
	GitCommit string
	BuildTime string
)

// VersionInfo returns detailed version information
func VersionInfo() map[string]string {
	info := map[string]string{
		"version": Version,
	}

	commit, built := GitCommit, BuildTime
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go"] = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	if commit != "" {
		info["commit"] = commit
	}
	if built != "" {
		info["buildTime"] = built
	}

	return info
}
