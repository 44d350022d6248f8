// Package container builds unit images and runs commands inside them via the
// docker or podman CLI.
package container

import (
	"context"
	"fmt"
)

// Engine is the interface over a container CLI.
type Engine interface {
	Build(ctx context.Context, opts BuildOptions) (*BuildResult, error)
	Run(ctx context.Context, opts RunOptions) (string, error)
	RemoveImage(ctx context.Context, ref string) error
	Available() bool
	Name() string
}

// BuildOptions configures a container image build.
type BuildOptions struct {
	ContextDir string
	Dockerfile string
	Tag        string
	NoCache    bool
	BuildArgs  map[string]string
}

// BuildResult holds the result of a container image build.
type BuildResult struct {
	ImageID string
	Tag     string
}

// RunOptions configures a one-shot `run --rm` container execution.
type RunOptions struct {
	Image   string
	Command []string
}

// Detect returns the first available container engine in order: docker,
// podman. Returns nil if none is available.
func Detect() Engine {
	engines := []Engine{
		&DockerEngine{},
		&PodmanEngine{},
	}
	for _, e := range engines {
		if e.Available() {
			return e
		}
	}
	return nil
}

// Get returns the engine for a CLI-selected name.
func Get(name string) (Engine, error) {
	switch name {
	case "docker":
		return &DockerEngine{}, nil
	case "podman":
		return &PodmanEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown container engine %q (supported: docker, podman)", name)
	}
}
