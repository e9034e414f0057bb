// Package version reports the build's identity for logs, the health
// endpoint, and outbound user-agent strings.
package version

import "runtime/debug"

// AppName prefixes every version string.
const AppName = "orchestrad"

// commit may be injected with -ldflags for builds done from an exported
// tree without VCS metadata, such as container image builds.
var commit string

// GitCommit is the short commit hash identifying this build. It resolves
// once at init: the ldflags injection wins, then the vcs.revision stamp
// from the module build info, then "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "orchestrad/<commit>" form.
func Full() string {
	return AppName + "/" + GitCommit
}
