// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package committer materializes a Generated Artifact into a temporary
// working copy of the target repository and pushes one commit to the
// requested branch, shelling out to the git binary rather
// than linking a git implementation.
package committer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

const (
	cloneTimeout = 120 * time.Second
	pushTimeout  = 120 * time.Second
	gitTimeout   = 30 * time.Second
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Result is the outcome of a successful commit.
type Result struct {
	CommitHash   string
	FilesChanged []string
}

type Committer struct {
	git config.GitConfig
}

func New(git config.GitConfig) *Committer {
	return &Committer{git: git}
}

// Commit runs the full clone/checkout/write/commit/push procedure and
// guarantees the temporary working directory is removed on every exit
// path.
func (c *Committer) Commit(ctx context.Context, repositoryURL, branch, outputPath string, artifact model.Artifact, analysisTitle, requirementText string) (Result, error) {
	repoName, err := repoNameFromURL(repositoryURL)
	if err != nil {
		return Result{}, pipelineerr.New(pipelineerr.Validation, "committer", err)
	}

	workDir, err := os.MkdirTemp("", "reqpipeline-"+repoName+"-")
	if err != nil {
		return Result{}, pipelineerr.New(pipelineerr.Unknown, "committer", fmt.Errorf("create temp dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			slog.Warn("committer: failed to remove temp dir", "dir", workDir, "error", rmErr)
		}
	}()

	runner := &gitRunner{workDir: workDir, git: c.git}

	if err := runner.clone(ctx, repositoryURL); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}
	if err := runner.configureIdentity(ctx); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}
	if err := runner.checkoutOrCreateBranch(ctx, branch); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}

	changed, err := writeArtifact(workDir, outputPath, artifact)
	if err != nil {
		return Result{}, pipelineerr.New(pipelineerr.Unknown, "committer", err)
	}
	if len(changed) == 0 {
		return Result{}, pipelineerr.New(pipelineerr.Validation, "committer", fmt.Errorf("no files to commit"))
	}

	if err := runner.stage(ctx, changed); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}

	message := commitMessage(analysisTitle, requirementText)
	if err := runner.commit(ctx, message); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}
	hash, err := runner.headHash(ctx)
	if err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}
	if err := runner.push(ctx, branch); err != nil {
		return Result{}, pipelineerr.NewRetryable("committer", err)
	}

	return Result{CommitHash: hash, FilesChanged: changed}, nil
}

// repoNameFromURL strips the protocol and ".git" suffix and replaces
// non-alphanumeric characters with "-".
func repoNameFromURL(repositoryURL string) (string, error) {
	name := repositoryURL
	if idx := strings.Index(name, "://"); idx >= 0 {
		name = name[idx+3:]
	}
	name = strings.TrimSuffix(name, ".git")
	name = nonAlphanumeric.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "", fmt.Errorf("repository URL %q does not yield a usable repository name", repositoryURL)
	}
	return name, nil
}

// commitMessage builds "feat: implement <title>\n\n<truncated requirement>".
func commitMessage(analysisTitle, requirementText string) string {
	title := analysisTitle
	if title == "" {
		title = "new requirement"
	}
	body := requirementText
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("feat: implement %s\n\n%s", title, body)
}

// writeArtifact writes every (relativePath, content) pair under
// workDir/outputPath, creating parent directories as needed, and returns
// the accumulated list of paths relative to workDir. outputPath is not
// re-prefixed onto a relPath that already starts with it, since
// generator.DefaultOutputPath derives outputPath from the same
// file-structure segment the Generator's own artifact keys carry.
func writeArtifact(workDir, outputPath string, artifact model.Artifact) ([]string, error) {
	var changed []string
	for relPath, content := range artifact {
		full := filepath.Join(workDir, filepath.FromSlash(joinOutputPath(outputPath, relPath)))
		if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
			return nil, fmt.Errorf("create parent dirs for %s: %w", relPath, err)
		}
		if err := os.WriteFile(full, []byte(content), 0640); err != nil {
			return nil, fmt.Errorf("write %s: %w", relPath, err)
		}
		relToRepo, err := filepath.Rel(workDir, full)
		if err != nil {
			return nil, err
		}
		changed = append(changed, filepath.ToSlash(relToRepo))
	}
	return changed, nil
}

// joinOutputPath prefixes relPath with outputPath, unless relPath already
// starts with outputPath as a path segment, in which case relPath is
// returned unchanged to avoid doubling the shared leading directory.
func joinOutputPath(outputPath, relPath string) string {
	outputPath = strings.Trim(outputPath, "/")
	if outputPath == "" {
		return relPath
	}
	if relPath == outputPath || strings.HasPrefix(relPath, outputPath+"/") {
		return relPath
	}
	return outputPath + "/" + relPath
}

type cmdError struct {
	args   []string
	err    error
	stderr string
}

func (e *cmdError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, strings.TrimSpace(e.stderr))
}
