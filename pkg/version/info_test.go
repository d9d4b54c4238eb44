package version

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func stamp(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
	AppVersion, GitCommit, BuildTime = version, commit, buildTime
}

func TestCurrent(t *testing.T) {
	tests := []struct {
		name    string
		service string
		version string
		commit  string
		want    Info
	}{
		{
			name: "unstamped",
			want: Info{Service: Unknown, Version: DevelopmentVersion, Commit: Unknown, BuildTime: Unknown},
		},
		{
			name:    "stamped",
			service: "docservice",
			version: " v1.4.0 ",
			commit:  "abc123",
			want:    Info{Service: "docservice", Version: "v1.4.0", Commit: "abc123", BuildTime: Unknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stamp(t, tt.version, tt.commit, "")
			got := Current(tt.service)
			tt.want.GoVersion = runtime.Version()
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestInfo_IsDevelopment(t *testing.T) {
	stamp(t, "", "", "")
	if !Current("docservice").IsDevelopment() {
		t.Fatal("expected unstamped build to be a development build")
	}
	if (Info{Version: "v1.0.0"}).IsDevelopment() {
		t.Fatal("expected stamped build not to be a development build")
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	parsed, ok := Info{BuildTime: now.Format(time.RFC3339)}.ParseBuildTime()
	if !ok || !parsed.Equal(now) {
		t.Fatalf("expected %v, got %v (%v)", now, parsed, ok)
	}

	for _, raw := range []string{"", Unknown, "yesterday"} {
		if _, ok := (Info{BuildTime: raw}).ParseBuildTime(); ok {
			t.Errorf("expected %q not to parse", raw)
		}
	}
}

func TestInfo_String(t *testing.T) {
	s := Info{Service: "docservice", Version: "v1.0.0", Commit: "abc", BuildTime: Unknown, GoVersion: "go1.25"}.String()
	for _, part := range []string{"docservice", "v1.0.0", "abc", "go1.25"} {
		if !strings.Contains(s, part) {
			t.Errorf("expected %q in %q", part, s)
		}
	}
}
