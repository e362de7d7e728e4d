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
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

var tracer = otel.Tracer("reqpipeline.provider")

type entry struct {
	cfg     config.ProviderConfig
	adapter Adapter
}

// Registry indexes configured LLM backends and exposes the uniform call
// contract with fallback. A Registry is immutable after NewRegistry
// returns.
type Registry struct {
	defaultProvider string
	fallbackOrder   []string
	entries         map[string]entry
	order           []string // registration order, for deterministic remainder iteration
}

// NewRegistry builds a Registry from the configured providers, wiring one
// Adapter per protocol via newAdapter. Disabled providers are recorded so
// ListAvailable can omit them but are still resolvable by explicit id.
func NewRegistry(cfg config.Config) (*Registry, error) {
	r := &Registry{
		defaultProvider: cfg.DefaultProvider,
		fallbackOrder:   cfg.FallbackOrder,
		entries:         make(map[string]entry, len(cfg.Providers)),
	}
	for _, pc := range cfg.Providers {
		adapter, err := newAdapter(pc)
		if err != nil {
			return nil, pipelineerr.New(pipelineerr.Config, "provider_registry", fmt.Errorf("provider %s: %w", pc.ID, err))
		}
		r.entries[pc.ID] = entry{cfg: pc, adapter: adapter}
		r.order = append(r.order, pc.ID)
	}
	return r, nil
}

func newAdapter(pc config.ProviderConfig) (Adapter, error) {
	switch pc.Protocol {
	case "openai-chat":
		return newOpenAIAdapter(pc), nil
	case "anthropic-messages":
		return newAnthropicAdapter(pc), nil
	case "google-generate":
		return newGoogleAdapter(pc), nil
	case "ollama-generate":
		return newOllamaAdapter(pc), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", pc.Protocol)
	}
}

// Call routes to options.Provider, or the registry's defaultProvider when
// unset, with no fallback beyond what UseFallback requests.
func (r *Registry) Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error) {
	id := opts.Provider
	if id == "" {
		id = r.defaultProvider
	}
	if opts.useFallback() {
		res, err := r.CallWithFallback(ctx, prompt, system, opts)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	return r.callOne(ctx, id, prompt, system, opts)
}

// CallWithFallback iterates providers starting from opts.Provider (or the
// registry's defaultProvider when unset), then fallbackOrder, then any remaining enabled providers not
// listed there, skipping excludeProviders, and returns the first
// successful response together with the provider that produced it. When
// opts.Provider is set and UseFallback is false,
// only that provider is tried, so multi-model comparison mode can pin
// each fan-out call to a distinct provider without it silently falling
// back to the registry default. It fails only after every candidate has
// failed, reporting the last error.
func (r *Registry) CallWithFallback(ctx context.Context, prompt, system string, opts CallOptions) (Result, error) {
	var candidates []string
	if opts.Provider != "" && !opts.useFallback() {
		candidates = []string{opts.Provider}
	} else {
		candidates = r.candidateOrder(opts)
	}
	if len(candidates) == 0 {
		return Result{}, pipelineerr.New(pipelineerr.Config, "provider_registry", fmt.Errorf("no candidate providers available"))
	}

	var lastErr error
	for _, id := range candidates {
		text, err := r.callOne(ctx, id, prompt, system, opts)
		if err == nil {
			return Result{Text: text, Provider: id}, nil
		}
		slog.Warn("llm provider call failed, trying next", "provider", id, "error", err)
		lastErr = err
	}
	return Result{}, fmt.Errorf("all providers exhausted: %w", lastErr)
}

// candidateOrder produces the deterministic candidate ordering:
// opts.Provider first (or defaultProvider when unset), then fallbackOrder,
// then remaining enabled providers in registration order, each filtered by
// ExcludeProviders and the enabled flag.
func (r *Registry) candidateOrder(opts CallOptions) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if seen[id] || opts.ExcludeProviders[id] {
			return
		}
		e, ok := r.entries[id]
		if !ok || !e.cfg.Enabled {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	first := opts.Provider
	if first == "" {
		first = r.defaultProvider
	}
	if first != "" {
		add(first)
	}
	for _, id := range r.fallbackOrder {
		add(id)
	}
	for _, id := range r.order {
		add(id)
	}
	return out
}

func (r *Registry) callOne(ctx context.Context, id, prompt, system string, opts CallOptions) (string, error) {
	e, ok := r.entries[id]
	if !ok {
		return "", pipelineerr.New(pipelineerr.Config, "provider_registry", fmt.Errorf("unknown provider %q", id))
	}
	if !e.cfg.Enabled {
		return "", pipelineerr.NewRetryable("provider_registry", fmt.Errorf("provider %q is disabled", id))
	}

	ctx, span := tracer.Start(ctx, "provider.Call")
	span.SetAttributes(attribute.String("llm.provider", id), attribute.String("llm.protocol", e.cfg.Protocol))
	defer span.End()

	text, err := e.adapter.Call(ctx, prompt, system, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// ListAvailable returns the enabled provider ids, in registration order.
func (r *Registry) ListAvailable() []string {
	var out []string
	for _, id := range r.order {
		if r.entries[id].cfg.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// Probe sends a minimal canary prompt to providerID and returns true iff
// the provider responds with text containing an affirmative token
// ("ok", case-insensitive).
func (r *Registry) Probe(ctx context.Context, providerID string) (bool, error) {
	no := false
	text, err := r.callOne(ctx, providerID, "Reply with the single word OK.", "", CallOptions{UseFallback: &no})
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(text), "ok"), nil
}
