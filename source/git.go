// Package source obtains reproducible, pinned snapshots of the project tree
// for a revision reference. The dual acquisition paths (update an existing
// clone, or re-clone from scratch) stay hidden behind a single Fetch call.
package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/initializ/slipway/logging"
)

// Snapshot is a pinned checkout produced by Fetch.
type Snapshot struct {
	Dir    string // work tree path
	Commit string // resolved full commit hash
}

// gitRunFunc executes one git command in dir and returns its combined output.
type gitRunFunc func(ctx context.Context, dir string, args ...string) (string, error)

// GitSource acquires snapshots with the git CLI. One Fetch performs a single
// acquisition attempt; retrying is the caller's policy.
type GitSource struct {
	repoURL string
	workDir string
	logger  logging.Logger
	run     gitRunFunc
}

// NewGitSource creates a GitSource cloning repoURL into workDir.
func NewGitSource(repoURL, workDir string, logger logging.Logger) *GitSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitSource{
		repoURL: repoURL,
		workDir: workDir,
		logger:  logger,
		run:     execGit,
	}
}

// Fetch checks out the given revision into the work dir and returns the
// pinned snapshot. An existing clone is updated in place; a missing or
// broken one is replaced by a fresh clone.
func (s *GitSource) Fetch(ctx context.Context, rev string) (*Snapshot, error) {
	if s.hasRepo() {
		if _, err := s.run(ctx, s.workDir, "fetch", "--tags", "--prune", "origin"); err != nil {
			s.logger.Warn("git fetch failed, re-cloning", map[string]any{
				"repo": s.repoURL, "error": err.Error(),
			})
			if err := s.clone(ctx, true); err != nil {
				return nil, err
			}
		}
	} else {
		if err := s.clone(ctx, false); err != nil {
			return nil, err
		}
	}

	if _, err := s.run(ctx, s.workDir, "checkout", "--force", "--detach", rev); err != nil {
		return nil, fmt.Errorf("checking out %q: %w", rev, err)
	}
	if _, err := s.run(ctx, s.workDir, "clean", "-fdx"); err != nil {
		return nil, fmt.Errorf("cleaning work tree: %w", err)
	}

	out, err := s.run(ctx, s.workDir, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit := strings.TrimSpace(out)

	s.logger.Info("source pinned", map[string]any{
		"rev":    rev,
		"commit": commit,
		"dir":    s.workDir,
	})
	return &Snapshot{Dir: s.workDir, Commit: commit}, nil
}

func (s *GitSource) hasRepo() bool {
	_, err := os.Stat(filepath.Join(s.workDir, ".git"))
	return err == nil
}

// clone creates a fresh clone, removing any existing work dir first when
// replace is set.
func (s *GitSource) clone(ctx context.Context, replace bool) error {
	if replace {
		if err := os.RemoveAll(s.workDir); err != nil {
			return fmt.Errorf("removing stale work dir: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.workDir), 0o755); err != nil {
		return fmt.Errorf("creating work dir parent: %w", err)
	}
	if _, err := s.run(ctx, "", "clone", s.repoURL, s.workDir); err != nil {
		return fmt.Errorf("cloning %s: %w", s.repoURL, err)
	}
	return nil
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return out.String(), nil
}
