// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provider implements the LLM Provider Registry:
// a uniform call contract over the four supported protocols
// (openai-chat, anthropic-messages, google-generate, ollama-generate),
// with a deterministic fallback chain.
package provider

import "context"

// CallOptions carries the per-call knobs accepted by an Adapter.
type CallOptions struct {
	// Provider names the provider to route to. Empty means the
	// registry's configured default.
	Provider string

	// Temperature defaults to 0.2 when nil.
	Temperature *float64

	// MaxTokens is provider-specific when nil; each adapter picks its
	// own default.
	MaxTokens *int

	// UseFallback defaults to true; set false to force a single
	// provider and fail immediately on error.
	UseFallback *bool

	// ExcludeProviders names providers to skip during fallback.
	ExcludeProviders map[string]bool
}

func (o CallOptions) temperature() float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return 0.2
}

func (o CallOptions) useFallback() bool {
	if o.UseFallback != nil {
		return *o.UseFallback
	}
	return true
}

// Adapter is the single dispatch routine every protocol implements: one
// call contract, tagged-variant selection at construction time rather
// than inheritance.
type Adapter interface {
	Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error)
}

// Result pairs a successful response with the provider that produced it,
// as returned by CallWithFallback.
type Result struct {
	Text     string
	Provider string
}
