package container

import (
	"strings"
	"testing"
)

func TestParseImageID(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "classic builder",
			output: "Step 4/4 : CMD [\"python\", \"app.py\"]\nSuccessfully built abc123def456\nSuccessfully tagged api:latest",
			want:   "abc123def456",
		},
		{
			name:   "buildkit writing image",
			output: "#8 exporting layers\n#8 writing image sha256:deadbeefcafe done\n#8 naming to docker.io/library/api:latest",
			want:   "sha256:deadbeefcafe",
		},
		{
			name:   "bare sha line",
			output: "sha256:0123456789ab",
			want:   "sha256:0123456789ab",
		},
		{
			name:   "no id in output",
			output: "some unrelated noise",
			want:   "",
		},
		{
			name:   "empty output",
			output: "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseImageID(tt.output)
			if got != tt.want {
				t.Errorf("parseImageID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCmdArgs(t *testing.T) {
	tests := []struct {
		name string
		opts BuildOptions
		want []string
	}{
		{
			name: "tag and dockerfile",
			opts: BuildOptions{ContextDir: "services/api", Dockerfile: "Dockerfile", Tag: "api:abc123"},
			want: []string{"build", "-t", "api:abc123", "-f", "Dockerfile", "services/api"},
		},
		{
			name: "no cache",
			opts: BuildOptions{ContextDir: ".", Tag: "db:1", NoCache: true},
			want: []string{"build", "-t", "db:1", "--no-cache", "."},
		},
		{
			name: "defaults context to dot",
			opts: BuildOptions{Tag: "x:y"},
			want: []string{"build", "-t", "x:y", "."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildCmdArgs(tt.opts)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("buildCmdArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildCmdArgsBuildArgs(t *testing.T) {
	got := buildCmdArgs(BuildOptions{
		ContextDir: ".",
		Tag:        "api:1",
		BuildArgs:  map[string]string{"GIT_SHA": "abc123"},
	})

	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "--build-arg GIT_SHA=abc123") {
		t.Errorf("expected --build-arg GIT_SHA=abc123 in %v", got)
	}
}

func TestEngineNames(t *testing.T) {
	if got := (&DockerEngine{}).Name(); got != "docker" {
		t.Errorf("DockerEngine.Name() = %q, want docker", got)
	}
	if got := (&PodmanEngine{}).Name(); got != "podman" {
		t.Errorf("PodmanEngine.Name() = %q, want podman", got)
	}
}

func TestGetUnknownEngine(t *testing.T) {
	if _, err := Get("lxc"); err == nil {
		t.Fatal("expected error for unknown engine name")
	}
}
