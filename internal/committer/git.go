// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package committer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/config"
)

// gitRunner shells out to the git binary against a single working
// directory. Not safe for reuse across tasks (a fresh scratch
// directory per commit).
type gitRunner struct {
	workDir string
	git     config.GitConfig
}

func (r *gitRunner) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if r.git.SSHKeyPath != "" {
		cmd.Env = append(cmd.Environ(), fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o StrictHostKeyChecking=no", r.git.SSHKeyPath))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &cmdError{args: args, err: err, stderr: stderr.String()}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *gitRunner) clone(ctx context.Context, repositoryURL string) error {
	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()
	_, err := r.runNoTimeout(ctx, "", "clone", repositoryURL, r.workDir)
	return err
}

// runNoTimeout is used by callers that already applied their own,
// operation-specific timeout (clone, push), so run's shorter default
// gitTimeout is not layered on top.
func (r *gitRunner) runNoTimeout(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if r.git.SSHKeyPath != "" {
		cmd.Env = append(cmd.Environ(), fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o StrictHostKeyChecking=no", r.git.SSHKeyPath))
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &cmdError{args: args, err: err, stderr: stderr.String()}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *gitRunner) configureIdentity(ctx context.Context) error {
	if _, err := r.run(ctx, r.workDir, "config", "user.name", r.git.Username); err != nil {
		return err
	}
	if _, err := r.run(ctx, r.workDir, "config", "user.email", r.git.Email); err != nil {
		return err
	}
	return nil
}

// checkoutOrCreateBranch checks out branch if it exists locally or under
// remotes/origin/, otherwise creates a new local branch from HEAD.
func (r *gitRunner) checkoutOrCreateBranch(ctx context.Context, branch string) error {
	if _, err := r.run(ctx, r.workDir, "rev-parse", "--verify", branch); err == nil {
		_, err := r.run(ctx, r.workDir, "checkout", branch)
		return err
	}
	if _, err := r.run(ctx, r.workDir, "rev-parse", "--verify", "remotes/origin/"+branch); err == nil {
		_, err := r.run(ctx, r.workDir, "checkout", "-b", branch, "remotes/origin/"+branch)
		return err
	}
	_, err := r.run(ctx, r.workDir, "checkout", "-b", branch)
	return err
}

func (r *gitRunner) stage(ctx context.Context, paths []string) error {
	args := append([]string{"add"}, paths...)
	_, err := r.run(ctx, r.workDir, args...)
	return err
}

func (r *gitRunner) commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, r.workDir, "commit", "-m", message)
	return err
}

func (r *gitRunner) headHash(ctx context.Context) (string, error) {
	return r.run(ctx, r.workDir, "rev-parse", "HEAD")
}

func (r *gitRunner) push(ctx context.Context, branch string) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	_, err := r.runNoTimeout(ctx, r.workDir, "push", "origin", branch)
	return err
}
