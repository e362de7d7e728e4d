// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer turns requirement text into a structured Analysis
// record by prompting an LLM through the provider registry
// and parsing its response with a strict-then-heuristic fallback chain.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
	"github.com/aleutianai/reqpipeline/internal/provider"
)

const analysisTemperature = 0.15

const systemPrompt = "You are a senior software architect. You decompose natural-language requirements into a structured implementation analysis. Respond with a single JSON object and nothing else."

// Registry is the subset of provider.Registry the Analyzer depends on.
type Registry interface {
	CallWithFallback(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.Result, error)
}

type Analyzer struct {
	registry Registry
}

func New(registry Registry) *Analyzer {
	return &Analyzer{registry: registry}
}

// Options carries per-call overrides for Analyze.
type Options struct {
	PreferredProvider string
}

// Analyze calls the configured LLM and returns the parsed Analysis along
// with the provider identifier that produced it.
func (a *Analyzer) Analyze(ctx context.Context, requirementText string, language model.Language, templateContent string, opts Options) (model.Analysis, string, error) {
	prompt := buildPrompt(requirementText, language, templateContent)

	callOpts := provider.CallOptions{Temperature: floatPtr(analysisTemperature)}
	if opts.PreferredProvider != "" {
		callOpts.Provider = opts.PreferredProvider
	}

	result, err := a.registry.CallWithFallback(ctx, prompt, systemPrompt, callOpts)
	if err != nil {
		return model.Analysis{}, "", fmt.Errorf("analyzer: llm call failed: %w", err)
	}

	analysis, err := parseAnalysis(result.Text)
	if err != nil {
		return model.Analysis{}, "", pipelineerr.NewParseError("analyzer", err)
	}
	return analysis, result.Provider, nil
}

func floatPtr(f float64) *float64 { return &f }

func buildPrompt(requirementText string, language model.Language, templateContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n\n", language)
	fmt.Fprintf(&b, "Requirement:\n%s\n\n", requirementText)
	if templateContent != "" {
		fmt.Fprintf(&b, "The following template should inform the analysis (do not restate it verbatim):\n%s\n\n", templateContent)
	}
	b.WriteString("Produce a JSON object with exactly these keys:\n")
	b.WriteString(`{"title": string, "functionality": string, "components": [string], "inputsOutputs": string, "dependencies": string, "fileStructure": [string], "implementationStrategy": string}`)
	b.WriteString("\n\ntitle: a short name for the feature.\n")
	b.WriteString("functionality: what the code must do, in prose.\n")
	b.WriteString("components: the logical modules or classes involved.\n")
	b.WriteString("inputsOutputs: the inputs consumed and outputs produced.\n")
	b.WriteString("dependencies: constraints or dependencies, noting whether each is technical, business, or security in nature.\n")
	b.WriteString("fileStructure: suggested relative file paths, most important first.\n")
	b.WriteString("implementationStrategy: a short paragraph describing the approach.\n")
	return b.String()
}
