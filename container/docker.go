package container

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerEngine drives container operations through the docker CLI.
type DockerEngine struct{}

func (e *DockerEngine) Name() string { return "docker" }

func (e *DockerEngine) Available() bool {
	return exec.Command("docker", "info").Run() == nil
}

func (e *DockerEngine) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	return cliBuild(ctx, "docker", opts)
}

func (e *DockerEngine) Run(ctx context.Context, opts RunOptions) (string, error) {
	return cliRun(ctx, "docker", opts)
}

func (e *DockerEngine) RemoveImage(ctx context.Context, ref string) error {
	return cliRemoveImage(ctx, "docker", ref)
}

func cliBuild(ctx context.Context, bin string, opts BuildOptions) (*BuildResult, error) {
	args := buildCmdArgs(opts)

	cmd := exec.CommandContext(ctx, bin, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s build failed: %s: %w", bin, strings.TrimSpace(stderr.String()), err)
	}

	// BuildKit writes progress to stderr, classic builders to stdout; scan
	// both for the image ID.
	imageID := parseImageID(out.String())
	if imageID == "" {
		imageID = parseImageID(stderr.String())
	}
	return &BuildResult{ImageID: imageID, Tag: opts.Tag}, nil
}

func buildCmdArgs(opts BuildOptions) []string {
	args := []string{"build"}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	for k, v := range opts.BuildArgs {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}

	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	return append(args, contextDir)
}

func cliRun(ctx context.Context, bin string, opts RunOptions) (string, error) {
	args := append([]string{"run", "--rm", opts.Image}, opts.Command...)

	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s run %s: %w", bin, opts.Image, err)
	}
	return out.String(), nil
}

func cliRemoveImage(ctx context.Context, bin, ref string) error {
	cmd := exec.CommandContext(ctx, bin, "rmi", "-f", ref)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s rmi %s: %s: %w", bin, ref, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// parseImageID extracts the image ID from build output.
func parseImageID(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		// Classic builds print "Successfully built <id>"; BuildKit prints
		// "writing image sha256:<id>" or a bare hash.
		if strings.HasPrefix(line, "Successfully built ") {
			return strings.TrimPrefix(line, "Successfully built ")
		}
		if strings.HasPrefix(line, "sha256:") {
			return line
		}
		if idx := strings.Index(line, "writing image sha256:"); idx >= 0 {
			rest := line[idx+len("writing image "):]
			if end := strings.IndexByte(rest, ' '); end > 0 {
				return rest[:end]
			}
			return rest
		}
	}
	return ""
}
