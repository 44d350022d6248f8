package container

import (
	"context"
	"os/exec"
)

// PodmanEngine drives container operations through the podman CLI. Podman
// accepts the same build/run/rmi flags as docker, so the shared helpers
// apply unchanged.
type PodmanEngine struct{}

func (e *PodmanEngine) Name() string { return "podman" }

func (e *PodmanEngine) Available() bool {
	return exec.Command("podman", "info").Run() == nil
}

func (e *PodmanEngine) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	return cliBuild(ctx, "podman", opts)
}

func (e *PodmanEngine) Run(ctx context.Context, opts RunOptions) (string, error) {
	return cliRun(ctx, "podman", opts)
}

func (e *PodmanEngine) RemoveImage(ctx context.Context, ref string) error {
	return cliRemoveImage(ctx, "podman", ref)
}
