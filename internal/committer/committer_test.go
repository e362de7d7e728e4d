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
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/model"
)

func TestRepoNameFromURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/acme/widgets.git": "github-com-acme-widgets",
		"git@github.com:acme/widgets.git":     "git-github-com-acme-widgets",
		"https://example.com/repo":            "example-com-repo",
	}
	for url, want := range cases {
		got, err := repoNameFromURL(url)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestRepoNameFromURLRejectsEmpty(t *testing.T) {
	_, err := repoNameFromURL("https://.git")
	require.Error(t, err)
}

func TestCommitMessageTruncatesBody(t *testing.T) {
	long := strings.Repeat("x", 300)
	msg := commitMessage("Add widget", long)
	require.True(t, strings.HasPrefix(msg, "feat: implement Add widget\n\n"))
	require.Contains(t, msg, "...")
}

func TestCommitMessageDefaultsTitle(t *testing.T) {
	msg := commitMessage("", "short requirement")
	require.True(t, strings.HasPrefix(msg, "feat: implement new requirement\n\n"))
}

func TestWriteArtifactCreatesNestedFiles(t *testing.T) {
	dir := t.TempDir()
	artifact := model.Artifact{
		"src/a.go":        "package a",
		"src/nested/b.go": "package nested",
	}
	changed, err := writeArtifact(dir, "out", artifact)
	require.NoError(t, err)
	require.Len(t, changed, 2)

	data, err := os.ReadFile(filepath.Join(dir, "out", "src", "nested", "b.go"))
	require.NoError(t, err)
	require.Equal(t, "package nested", string(data))
}

func TestWriteArtifactDoesNotDoubleSharedLeadingSegment(t *testing.T) {
	dir := t.TempDir()
	artifact := model.Artifact{
		"src/auth.service.ts":    "export class AuthService {}",
		"src/auth.controller.ts": "export class AuthController {}",
	}
	changed, err := writeArtifact(dir, "src", artifact)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"src/auth.service.ts", "src/auth.controller.ts"}, changed)

	data, err := os.ReadFile(filepath.Join(dir, "src", "auth.service.ts"))
	require.NoError(t, err)
	require.Equal(t, "export class AuthService {}", string(data))
}

// newBareRemote creates a bare git repository suitable for cloning over a
// local file path, standing in for a remote without requiring network
// access.
func newBareRemote(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--bare", "-b", "main", dir)
	require.NoError(t, cmd.Run())
	return dir
}

func TestCommitEndToEndAgainstLocalBareRemote(t *testing.T) {
	remote := newBareRemote(t)
	c := New(config.GitConfig{Username: "reqpipeline-bot", Email: "reqpipeline-bot@example.com"})

	artifact := model.Artifact{"main.go": "package main\n"}
	result, err := c.Commit(context.Background(), remote, "main", "src", artifact, "Add greeter", "print hello world")
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitHash)
	require.Equal(t, []string{"src/main.go"}, result.FilesChanged)

	// Verify the push actually landed by cloning again.
	verifyDir := t.TempDir()
	cmd := exec.Command("git", "clone", remote, verifyDir)
	require.NoError(t, cmd.Run())
	data, err := os.ReadFile(filepath.Join(verifyDir, "src", "main.go"))
	require.NoError(t, err)
	require.Equal(t, "package main\n", string(data))
}

func TestCommitCreatesBranchWhenMissing(t *testing.T) {
	remote := newBareRemote(t)
	c := New(config.GitConfig{Username: "reqpipeline-bot", Email: "reqpipeline-bot@example.com"})

	artifact := model.Artifact{"a.go": "package a\n"}
	result, err := c.Commit(context.Background(), remote, "feature/new-thing", "src", artifact, "", "req")
	require.NoError(t, err)
	require.NotEmpty(t, result.CommitHash)
}
