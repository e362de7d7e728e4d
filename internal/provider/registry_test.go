// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/config"
)

func newOllamaStub(t *testing.T, model, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, model, req.Model)
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: response, Done: true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(providers ...config.ProviderConfig) config.Config {
	return config.Config{
		MaxConcurrentTasks: 1,
		DefaultProvider:    providers[0].ID,
		Providers:          providers,
	}
}

func TestCallWithFallbackUsesDefaultProvider(t *testing.T) {
	srv := newOllamaStub(t, "llama3", "hello from default")
	cfg := testConfig(config.ProviderConfig{ID: "primary", Protocol: "ollama-generate", Endpoint: srv.URL, Model: "llama3", Enabled: true})

	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	res, err := r.CallWithFallback(context.Background(), "hi", "", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "primary", res.Provider)
	require.Equal(t, "hello from default", res.Text)
}

func TestCallWithFallbackFallsBackOnDisabledDefault(t *testing.T) {
	srv := newOllamaStub(t, "llama3", "hello from backup")
	cfg := config.Config{
		MaxConcurrentTasks: 1,
		DefaultProvider:    "primary",
		FallbackOrder:      []string{"primary", "backup"},
		Providers: []config.ProviderConfig{
			{ID: "primary", Protocol: "ollama-generate", Endpoint: srv.URL, Model: "llama3", Enabled: false},
			{ID: "backup", Protocol: "ollama-generate", Endpoint: srv.URL, Model: "llama3", Enabled: true},
		},
	}

	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	res, err := r.CallWithFallback(context.Background(), "hi", "", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "backup", res.Provider)
}

func TestCallWithFallbackPinsExplicitProviderWithoutFallback(t *testing.T) {
	srvA := newOllamaStub(t, "model-a", "from a")
	srvB := newOllamaStub(t, "model-b", "from b")
	cfg := testConfig(
		config.ProviderConfig{ID: "a", Protocol: "ollama-generate", Endpoint: srvA.URL, Model: "model-a", Enabled: true},
		config.ProviderConfig{ID: "b", Protocol: "ollama-generate", Endpoint: srvB.URL, Model: "model-b", Enabled: true},
	)

	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	noFallback := false
	res, err := r.CallWithFallback(context.Background(), "hi", "", CallOptions{Provider: "b", UseFallback: &noFallback})
	require.NoError(t, err)
	require.Equal(t, "b", res.Provider)
	require.Equal(t, "from b", res.Text)
}

func TestCallWithFallbackFailsWhenPinnedProviderErrorsAndFallbackDisabled(t *testing.T) {
	cfg := testConfig(config.ProviderConfig{ID: "a", Protocol: "ollama-generate", Endpoint: "http://127.0.0.1:0", Model: "model-a", Enabled: true})
	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	noFallback := false
	_, err = r.CallWithFallback(context.Background(), "hi", "", CallOptions{Provider: "unknown", UseFallback: &noFallback})
	require.Error(t, err)
}

func TestListAvailableOmitsDisabledProviders(t *testing.T) {
	cfg := config.Config{
		MaxConcurrentTasks: 1,
		DefaultProvider:    "a",
		Providers: []config.ProviderConfig{
			{ID: "a", Protocol: "ollama-generate", Endpoint: "http://localhost", Model: "m", Enabled: true},
			{ID: "b", Protocol: "ollama-generate", Endpoint: "http://localhost", Model: "m", Enabled: false},
		},
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, r.ListAvailable())
}
