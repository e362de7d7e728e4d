// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"REQPIPELINE_CONFIG_FILE", "MAX_CONCURRENT_TASKS", "DEFAULT_LLM_PROVIDER",
		"LLM_FALLBACK_ORDER", "GIT_USERNAME", "GIT_EMAIL", "GIT_SSH_KEY_PATH",
		"REQPIPELINE_DATA_DIR", "OLLAMA_API_URL", "OLLAMA_MODELS",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
	}
	for _, k := range keys {
		old, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		if ok {
			t.Cleanup(func() { os.Setenv(k, old) })
		}
	}
}

func TestLoadInternalDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadInternal()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxConcurrentTasks)
	require.Equal(t, "openai", cfg.DefaultProvider)
	require.Equal(t, "reqpipeline-bot", cfg.Git.Username)
	require.Len(t, cfg.Providers, 3)
}

func TestLoadInternalEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_CONCURRENT_TASKS", "12")
	os.Setenv("DEFAULT_LLM_PROVIDER", "anthropic")
	os.Setenv("LLM_FALLBACK_ORDER", "openai, google , anthropic")
	os.Setenv("GIT_USERNAME", "ci-bot")

	cfg, err := loadInternal()
	require.NoError(t, err)
	require.Equal(t, 12, cfg.MaxConcurrentTasks)
	require.Equal(t, "anthropic", cfg.DefaultProvider)
	require.Equal(t, []string{"openai", "google", "anthropic"}, cfg.FallbackOrder)
	require.Equal(t, "ci-bot", cfg.Git.Username)
}

func TestLoadInternalRejectsNonPositiveConcurrency(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_CONCURRENT_TASKS", "0")

	_, err := loadInternal()
	require.Error(t, err)
}

func TestLoadInternalRejectsNonIntegerConcurrency(t *testing.T) {
	clearEnv(t)
	os.Setenv("MAX_CONCURRENT_TASKS", "not-a-number")

	_, err := loadInternal()
	require.Error(t, err)
}

func TestLoadInternalMergesYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxConcurrentTasks: 8\nqualityGateEnabled: true\n"), 0600))
	os.Setenv("REQPIPELINE_CONFIG_FILE", path)

	cfg, err := loadInternal()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxConcurrentTasks)
	require.True(t, cfg.QualityGateEnabled)
}

func TestLoadInternalMissingConfigFileErrors(t *testing.T) {
	clearEnv(t)
	os.Setenv("REQPIPELINE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := loadInternal()
	require.Error(t, err)
}

func TestMergeOllamaProvidersAddsOneEntryPerModel(t *testing.T) {
	clearEnv(t)
	os.Setenv("OLLAMA_API_URL", "http://localhost:11434")
	os.Setenv("OLLAMA_MODELS", "llama3, codellama")

	cfg, err := loadInternal()
	require.NoError(t, err)

	var ollamaIDs []string
	for _, p := range cfg.Providers {
		if p.Protocol == "ollama-generate" {
			ollamaIDs = append(ollamaIDs, p.ID)
			require.True(t, p.Enabled)
			require.Equal(t, "http://localhost:11434", p.Endpoint)
		}
	}
	require.Equal(t, []string{"ollama-llama3", "ollama-codellama"}, ollamaIDs)
}

func TestMergeOllamaProvidersNoopWithoutURL(t *testing.T) {
	clearEnv(t)
	os.Setenv("OLLAMA_MODELS", "llama3")

	cfg, err := loadInternal()
	require.NoError(t, err)
	for _, p := range cfg.Providers {
		require.NotEqual(t, "ollama-generate", p.Protocol)
	}
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitCSV(" a, b ,,c"))
	require.Nil(t, splitCSV(""))
}
