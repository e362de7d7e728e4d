// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the pipeline's configuration surface
// from the environment, with an optional local YAML overlay for
// development the way cmd/aleutian/config/loader.go overlays a YAML file
// onto defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry of the LLM Provider Registry.
type ProviderConfig struct {
	ID         string `yaml:"id"`
	Protocol   string `yaml:"protocol"`
	Endpoint   string `yaml:"endpoint"`
	Credential string `yaml:"credential"`
	Model      string `yaml:"model"`
	Enabled    bool   `yaml:"enabled"`
}

// GitConfig carries the identity used to author commits.
type GitConfig struct {
	Username   string `yaml:"username"`
	Email      string `yaml:"email"`
	SSHKeyPath string `yaml:"sshKeyPath,omitempty"`
}

// Config is the full pipeline configuration surface.
type Config struct {
	MaxConcurrentTasks int              `yaml:"maxConcurrentTasks"`
	DefaultProvider    string           `yaml:"defaultProvider"`
	FallbackOrder      []string         `yaml:"fallbackOrder"`
	Providers          []ProviderConfig `yaml:"providers"`
	Git                GitConfig        `yaml:"git"`
	QualityGateEnabled bool             `yaml:"qualityGateEnabled"`
	DataDir            string           `yaml:"dataDir"`
}

var (
	global  Config
	once    sync.Once
	loadErr error
)

// Load populates the process-wide singleton Config from the environment,
// optionally overlaid with a YAML file named by REQPIPELINE_CONFIG_FILE.
// Providers and Git identity, once loaded, are treated as immutable for
// the process lifetime.
func Load() (Config, error) {
	once.Do(func() {
		global, loadErr = loadInternal()
	})
	return global, loadErr
}

func loadInternal() (Config, error) {
	cfg := Default()

	if path := os.Getenv("REQPIPELINE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("MAX_CONCURRENT_TASKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MAX_CONCURRENT_TASKS must be an integer: %w", err)
		}
		cfg.MaxConcurrentTasks = n
	}
	if v := os.Getenv("DEFAULT_LLM_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("LLM_FALLBACK_ORDER"); v != "" {
		cfg.FallbackOrder = splitCSV(v)
	}
	if v := os.Getenv("GIT_USERNAME"); v != "" {
		cfg.Git.Username = v
	}
	if v := os.Getenv("GIT_EMAIL"); v != "" {
		cfg.Git.Email = v
	}
	if v := os.Getenv("GIT_SSH_KEY_PATH"); v != "" {
		cfg.Git.SSHKeyPath = v
	}
	if v := os.Getenv("REQPIPELINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	cfg.Providers = mergeOllamaProviders(cfg.Providers)

	if cfg.MaxConcurrentTasks <= 0 {
		return cfg, fmt.Errorf("%w: maxConcurrentTasks must be positive", errConfig)
	}
	return cfg, nil
}

var errConfig = fmt.Errorf("invalid configuration")

// Default returns the built-in defaults before environment overrides.
func Default() Config {
	return Config{
		MaxConcurrentTasks: 5,
		DefaultProvider:    "openai",
		FallbackOrder:      nil,
		QualityGateEnabled: false,
		DataDir:            "./data",
		Providers: []ProviderConfig{
			{ID: "openai", Protocol: "openai-chat", Endpoint: "https://api.openai.com/v1", Credential: os.Getenv("OPENAI_API_KEY"), Model: "gpt-4o-mini", Enabled: os.Getenv("OPENAI_API_KEY") != ""},
			{ID: "anthropic", Protocol: "anthropic-messages", Endpoint: "https://api.anthropic.com", Credential: os.Getenv("ANTHROPIC_API_KEY"), Model: "claude-3-5-sonnet-20240620", Enabled: os.Getenv("ANTHROPIC_API_KEY") != ""},
			{ID: "google", Protocol: "google-generate", Endpoint: "https://generativelanguage.googleapis.com/v1beta", Credential: os.Getenv("GOOGLE_API_KEY"), Model: "gemini-1.5-flash", Enabled: os.Getenv("GOOGLE_API_KEY") != ""},
		},
		Git: GitConfig{
			Username:   envOr("GIT_USERNAME", "reqpipeline-bot"),
			Email:      envOr("GIT_EMAIL", "reqpipeline-bot@example.com"),
			SSHKeyPath: os.Getenv("GIT_SSH_KEY_PATH"),
		},
	}
}

// mergeOllamaProviders adds one provider entry per model named in
// OLLAMA_MODELS, all pointed at OLLAMA_API_URL with protocol
// "ollama-generate".
func mergeOllamaProviders(existing []ProviderConfig) []ProviderConfig {
	url := os.Getenv("OLLAMA_API_URL")
	models := splitCSV(os.Getenv("OLLAMA_MODELS"))
	if url == "" || len(models) == 0 {
		return existing
	}
	for _, m := range models {
		existing = append(existing, ProviderConfig{
			ID:         "ollama-" + m,
			Protocol:   "ollama-generate",
			Endpoint:   url,
			Credential: "ollama",
			Model:      m,
			Enabled:    true,
		})
	}
	return existing
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
