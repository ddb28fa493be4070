package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		info    *debug.BuildInfo
		want    build
	}{
		{
			name:    "ldflags win",
			version: "v0.3.0",
			commit:  "abc123",
			info:    &debug.BuildInfo{Main: debug.Module{Version: "v0.2.0"}},
			want:    build{"v0.3.0", "abc123"},
		},
		{
			name: "go install module version",
			info: &debug.BuildInfo{Main: debug.Module{Version: "v0.2.0"}},
			want: build{"v0.2.0", ""},
		},
		{
			name: "local build with vcs stamp",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			want: build{"devel", "0123456-dirty"},
		},
		{
			name: "no build info",
			want: build{"devel", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(tt.version, tt.commit, tt.info))
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := userAgent("v1.0 rc1")
	assert.True(t, strings.HasPrefix(ua, runtime.GOOS+"/"), ua)
	assert.True(t, strings.HasSuffix(ua, " UPnP/1.1 upnpcp/v1.0_rc1"), ua)
	assert.Len(t, strings.Fields(ua), 3)

	assert.Contains(t, UserAgent(), "upnpcp/")
}

func TestFull(t *testing.T) {
	assert.NotEmpty(t, Full())
}
