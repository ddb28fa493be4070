// Package version identifies the build in CLI output and in the product
// token the control point sends in SERVER and USER-AGENT headers.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Set at build time, for example:
//
//	go build -ldflags="-X github.com/muurk/upnpcp/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/upnpcp/internal/version.Commit=abc123"
var (
	Version = ""
	Commit  = ""
)

const (
	product = "upnpcp"
	devel   = "devel"
)

type build struct {
	version string
	commit  string
}

var (
	resolveOnce sync.Once
	resolved    build
)

func current() build {
	resolveOnce.Do(func() {
		info, _ := debug.ReadBuildInfo()
		resolved = resolve(Version, Commit, info)
	})
	return resolved
}

// resolve prefers ldflags, then the module version go install records,
// then the VCS stamp.
func resolve(version, commit string, info *debug.BuildInfo) build {
	b := build{version: version, commit: commit}
	if info != nil {
		if b.version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.version = info.Main.Version
		}
		if b.commit == "" {
			b.commit = vcsCommit(info.Settings)
		}
	}
	if b.version == "" {
		b.version = devel
	}
	return b
}

func vcsCommit(settings []debug.BuildSetting) string {
	var rev string
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return ""
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// Full returns the version and commit for display.
func Full() string {
	b := current()
	if b.commit == "" {
		return b.version
	}
	return fmt.Sprintf("%s (commit: %s)", b.version, b.commit)
}

// UserAgent returns the "OS/version UPnP/1.1 product/version" token.
func UserAgent() string {
	return userAgent(current().version)
}

func userAgent(version string) string {
	goVersion := strings.TrimPrefix(runtime.Version(), "go")
	// Product tokens are space separated, so the version must not contain one.
	version = strings.ReplaceAll(version, " ", "_")
	return fmt.Sprintf("%s/%s UPnP/1.1 %s/%s", runtime.GOOS, goVersion, product, version)
}
