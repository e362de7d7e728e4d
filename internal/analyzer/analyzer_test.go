// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/provider"
)

type fakeRegistry struct {
	text     string
	provider string
	err      error
}

func (f *fakeRegistry) CallWithFallback(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.Result, error) {
	if f.err != nil {
		return provider.Result{}, f.err
	}
	return provider.Result{Text: f.text, Provider: f.provider}, nil
}

func TestAnalyzeStrictJSON(t *testing.T) {
	reg := &fakeRegistry{
		text:     `{"title":"Add rate limiter","functionality":"limits requests","components":["limiter","store"],"inputsOutputs":"http requests in, 429 out","dependencies":"redis","fileStructure":["src/ratelimit/limiter.go"],"implementationStrategy":"token bucket"}`,
		provider: "openai",
	}
	a := New(reg)
	analysis, providerID, err := a.Analyze(context.Background(), "add a rate limiter", model.LangGo, "", Options{})
	require.NoError(t, err)
	require.Equal(t, "openai", providerID)
	require.Equal(t, "Add rate limiter", analysis.Title)
	require.Equal(t, []string{"limiter", "store"}, analysis.Components)
}

func TestAnalyzeFencedJSONFallback(t *testing.T) {
	reg := &fakeRegistry{text: "Sure, here you go:\n```json\n{\"title\":\"X\",\"functionality\":\"Y\",\"components\":[],\"inputsOutputs\":\"\",\"dependencies\":\"\",\"fileStructure\":[],\"implementationStrategy\":\"\"}\n```\nLet me know if you need anything else."}
	a := New(reg)
	analysis, _, err := a.Analyze(context.Background(), "req", model.LangPython, "", Options{})
	require.NoError(t, err)
	require.Equal(t, "X", analysis.Title)
}

func TestAnalyzeHeuristicFallback(t *testing.T) {
	text := "Title: Notification service\n" +
		"Main Functionality: sends emails\n" +
		"Components:\n- mailer\n- queue\n\n" +
		"Inputs and Outputs: event in, email out\n" +
		"Dependencies: smtp\n" +
		"File Structure:\n1. src/mailer.go\n2. src/queue.go\n\n" +
		"Implementation Strategy: use a worker pool"
	reg := &fakeRegistry{text: text}
	a := New(reg)
	analysis, _, err := a.Analyze(context.Background(), "req", model.LangGo, "", Options{})
	require.NoError(t, err)
	require.Equal(t, "Notification service", analysis.Title)
	require.Equal(t, []string{"mailer", "queue"}, analysis.Components)
	require.Equal(t, []string{"src/mailer.go", "src/queue.go"}, analysis.FileStructure)
}

func TestNormalizePriorityDefaultsToMedium(t *testing.T) {
	require.Equal(t, model.PriorityCritical, NormalizePriority("this is URGENT"))
	require.Equal(t, model.PriorityHigh, NormalizePriority("high"))
	require.Equal(t, model.PriorityLow, NormalizePriority("低"))
	require.Equal(t, model.PriorityMedium, NormalizePriority("whatever"))
}

func TestNormalizeConstraintTypeKeepsSecurityDistinct(t *testing.T) {
	require.Equal(t, ConstraintSecurity, NormalizeConstraintType("must satisfy security review"))
	require.Equal(t, ConstraintBusiness, NormalizeConstraintType("business rule"))
	require.Equal(t, ConstraintTechnical, NormalizeConstraintType("uses postgres"))
}
