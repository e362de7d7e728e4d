// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator produces a Generated Artifact (path -> content) from
// an Analysis and target language, optionally fanning a
// single generation prompt out across multiple providers for comparison.
package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
	"github.com/aleutianai/reqpipeline/internal/provider"
)

const generationTemperature = 0.2

const systemPrompt = "You are a senior software engineer. You write complete, idiomatic, production-quality source files. Respond with a single JSON object mapping relative file paths to file contents, and nothing else."

// Registry is the subset of provider.Registry the Generator depends on.
type Registry interface {
	CallWithFallback(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.Result, error)
}

type Generator struct {
	registry Registry
}

func New(registry Registry) *Generator {
	return &Generator{registry: registry}
}

// Options carries per-task generation controls.
type Options struct {
	PreferredProvider string
	// ComparisonProviders, when non-empty, enables multi-model comparison
	// mode: the same prompt is sent to every listed provider in a bounded
	// parallel fan-out.
	ComparisonProviders []string
}

// Result is the outcome of a single-provider generation call.
type Result struct {
	Artifact model.Artifact
	Provider string
}

// ComparisonResult is the outcome of multi-model comparison mode: Best is
// used for the main commit, Others holds every remaining non-empty
// artifact keyed by the provider that produced it, for comparison-branch
// commits.
type ComparisonResult struct {
	Best   Result
	Others []Result
}

// Generate produces a single artifact using the preferred provider (or the
// registry default), with ordinary fallback semantics.
func (g *Generator) Generate(ctx context.Context, analysis model.Analysis, language model.Language, opts Options) (Result, error) {
	prompt := buildPrompt(analysis, language)
	callOpts := provider.CallOptions{Temperature: floatPtr(generationTemperature)}
	if opts.PreferredProvider != "" {
		callOpts.Provider = opts.PreferredProvider
	}

	res, err := g.registry.CallWithFallback(ctx, prompt, systemPrompt, callOpts)
	if err != nil {
		return Result{}, fmt.Errorf("generator: llm call failed: %w", err)
	}
	artifact, err := parseArtifact(res.Text)
	if err != nil {
		return Result{}, pipelineerr.NewParseError("generator", err)
	}
	return Result{Artifact: artifact, Provider: res.Provider}, nil
}

// GenerateComparison runs Generate against every provider in
// opts.ComparisonProviders concurrently and selects the artifact with the
// greatest file count as Best. Providers that fail or
// return an empty artifact are omitted from the result; if every provider
// fails the last error is returned.
func (g *Generator) GenerateComparison(ctx context.Context, analysis model.Analysis, language model.Language, providers []string) (ComparisonResult, error) {
	prompt := buildPrompt(analysis, language)

	results := make([]Result, len(providers))
	errs := make([]error, len(providers))

	group, ctx := errgroup.WithContext(ctx)
	for i, providerID := range providers {
		i, providerID := i, providerID
		group.Go(func() error {
			res, err := g.registry.CallWithFallback(ctx, prompt, systemPrompt, provider.CallOptions{
				Provider:    providerID,
				Temperature: floatPtr(generationTemperature),
				UseFallback: boolPtr(false),
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			artifact, err := parseArtifact(res.Text)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = Result{Artifact: artifact, Provider: providerID}
			return nil
		})
	}
	// errgroup only propagates unexpected errors; per-provider failures are
	// captured in errs so one bad provider does not cancel the others.
	_ = group.Wait()

	var successes []Result
	var lastErr error
	for i, r := range results {
		if errs[i] != nil {
			lastErr = errs[i]
			continue
		}
		if len(r.Artifact) == 0 {
			continue
		}
		successes = append(successes, r)
	}
	if len(successes) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("generator: no comparison provider produced output")
		}
		return ComparisonResult{}, lastErr
	}

	sort.SliceStable(successes, func(i, j int) bool {
		return successes[i].Artifact.FileCount() > successes[j].Artifact.FileCount()
	})
	return ComparisonResult{Best: successes[0], Others: successes[1:]}, nil
}

func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool { return &b }

// ComparisonBranch returns the derived branch name for a non-selected
// comparison artifact (`${mainBranch}-${providerId}`).
func ComparisonBranch(mainBranch, providerID string) string {
	return mainBranch + "-" + providerID
}

// DefaultOutputPath derives the default commit sub-path from the
// Analysis's file structure by taking the mode of the first path segment;
// if the list is empty, a per-language default applies.
func DefaultOutputPath(fileStructure []string, language model.Language) string {
	if len(fileStructure) > 0 {
		counts := map[string]int{}
		for _, p := range fileStructure {
			seg := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)[0]
			if seg != "" {
				counts[seg]++
			}
		}
		best, bestCount := "", 0
		// Iterate fileStructure order (not map order) so ties resolve
		// deterministically to the first-seen segment.
		seen := map[string]bool{}
		for _, p := range fileStructure {
			seg := strings.SplitN(strings.TrimPrefix(p, "/"), "/", 2)[0]
			if seg == "" || seen[seg] {
				continue
			}
			seen[seg] = true
			if counts[seg] > bestCount {
				best, bestCount = seg, counts[seg]
			}
		}
		if best != "" {
			return best
		}
	}
	switch strings.ToLower(string(language)) {
	case "typescript", "javascript", "python", "rust", "csharp", "php":
		return "src"
	case "java":
		return "src/main/java"
	case "go":
		return "pkg"
	case "ruby":
		return "lib"
	default:
		return "src"
	}
}
