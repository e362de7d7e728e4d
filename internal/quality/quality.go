// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quality scores a Generated Artifact for syntax validity, code
// quality, and requirement coverage, and decides pass/fail against the
// gate threshold.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
	"github.com/aleutianai/reqpipeline/internal/provider"
)

// Registry is the subset of provider.Registry the Quality Checker depends on.
type Registry interface {
	CallWithFallback(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.Result, error)
}

// languageExtensions maps a target language to its recognized code-file
// extensions for the syntax-validity pass.
var languageExtensions = map[string][]string{
	"typescript": {".ts", ".tsx"},
	"javascript": {".js", ".jsx"},
	"python":     {".py"},
	"java":       {".java"},
	"go":         {".go"},
	"rust":       {".rs"},
	"c++":        {".cpp", ".hpp", ".h"},
	"csharp":     {".cs"},
	"ruby":       {".rb"},
	"php":        {".php"},
}

const (
	syntaxTemperature    = 0.0
	evaluatorTemperature = 0.1
	coverageTemperature  = 0.1

	// per-file and overall prompt truncation limits for the code-quality
	// evaluator prompt.
	perFileCap = 1000
	promptCap  = 8000
)

type Checker struct {
	registry Registry
}

func New(registry Registry) *Checker {
	return &Checker{registry: registry}
}

// Verdict is the outcome of a single quality-check attempt.
type Verdict struct {
	Passed        bool
	CodeQuality   float64
	Coverage      float64
	SyntaxValid   float64
	Feedback      string
	StaticPayload json.RawMessage
}

// Check runs the three sub-scores against artifact and returns the
// aggregate verdict plus the Quality Metric row ready for persistence.
func (c *Checker) Check(ctx context.Context, analysis model.Analysis, artifact model.Artifact, language model.Language) (Verdict, model.QualityMetric, error) {
	syntaxScore, err := c.syntaxValidity(ctx, artifact, language)
	if err != nil {
		return Verdict{}, model.QualityMetric{}, fmt.Errorf("quality: syntax validity: %w", err)
	}

	codeQuality, staticPayload, feedback, err := c.codeQuality(ctx, analysis, artifact)
	if err != nil {
		return Verdict{}, model.QualityMetric{}, fmt.Errorf("quality: code quality: %w", err)
	}

	coverage, err := c.requirementCoverage(ctx, analysis, artifact)
	if err != nil {
		return Verdict{}, model.QualityMetric{}, fmt.Errorf("quality: requirement coverage: %w", err)
	}

	overall := model.Aggregate(codeQuality, coverage, syntaxScore)
	verdict := Verdict{
		Passed:        overall >= model.GateThreshold,
		CodeQuality:   codeQuality,
		Coverage:      coverage,
		SyntaxValid:   syntaxScore,
		Feedback:      feedback,
		StaticPayload: staticPayload,
	}
	metric := model.QualityMetric{
		CodeQualityScore:         codeQuality,
		RequirementCoverageScore: coverage,
		SyntaxValidityScore:      syntaxScore,
		StaticAnalysis:           staticPayload,
		Feedback:                 feedback,
	}
	return verdict, metric, nil
}

// syntaxValidity submits every code file matching language's extension set
// to a single-word verdict prompt and scores the valid fraction.
func (c *Checker) syntaxValidity(ctx context.Context, artifact model.Artifact, language model.Language) (float64, error) {
	exts := languageExtensions[strings.ToLower(string(language))]
	if len(exts) == 0 {
		return 0, nil
	}

	var codeFiles []string
	for path := range artifact {
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range exts {
			if ext == e {
				codeFiles = append(codeFiles, path)
				break
			}
		}
	}
	if len(codeFiles) == 0 {
		return 0, nil
	}

	valid := 0
	for _, path := range codeFiles {
		prompt := fmt.Sprintf("Is the following %s source valid, syntactically correct code? Respond with exactly one word: valid or invalid.\n\n%s", language, artifact[path])
		res, err := c.registry.CallWithFallback(ctx, prompt, "You are a strict syntax validator.", provider.CallOptions{Temperature: floatPtr(syntaxTemperature)})
		if err != nil {
			return 0, err
		}
		if strings.Contains(strings.ToLower(strings.TrimSpace(res.Text)), "valid") && !strings.Contains(strings.ToLower(strings.TrimSpace(res.Text)), "invalid") {
			valid++
		}
	}
	return float64(valid) / float64(len(codeFiles)) * 100, nil
}

type evaluatorScores struct {
	Correctness   float64 `json:"correctness"`
	Completeness  float64 `json:"completeness"`
	CodeQuality   float64 `json:"codeQuality"`
	ErrorHandling float64 `json:"errorHandling"`
	Security      float64 `json:"security"`
}

type evaluatorResponse struct {
	TotalScore float64         `json:"totalScore"`
	Scores     evaluatorScores `json:"scores"`
	Feedback   string          `json:"feedback"`
	Issues     []string        `json:"issues"`
}

// codeQuality submits a truncated corpus plus the Analysis to an evaluator
// prompt and returns totalScore, the raw sub-scores as an opaque payload,
// and feedback.
func (c *Checker) codeQuality(ctx context.Context, analysis model.Analysis, artifact model.Artifact) (float64, json.RawMessage, string, error) {
	corpus := truncatedCorpus(artifact)
	prompt := fmt.Sprintf(
		"Evaluate the following generated code against this requirement analysis on a 100-point rubric with weights correctness=30, completeness=25, codeQuality=25, errorHandling=10, security=10.\n\n"+
			"Requirement title: %s\nFunctionality: %s\n\nCode:\n%s\n\n"+
			`Respond with a single JSON object: {"totalScore": number, "scores": {"correctness": number, "completeness": number, "codeQuality": number, "errorHandling": number, "security": number}, "feedback": string, "issues": [string]}`,
		analysis.Title, analysis.Functionality, corpus,
	)
	res, err := c.registry.CallWithFallback(ctx, prompt, "You are a rigorous code reviewer.", provider.CallOptions{Temperature: floatPtr(evaluatorTemperature)})
	if err != nil {
		return 0, nil, "", err
	}
	var parsed evaluatorResponse
	if err := parseJSONObject(res.Text, &parsed); err != nil {
		return 0, nil, "", pipelineerr.NewParseError("quality_checker", err)
	}
	payload, err := json.Marshal(parsed.Scores)
	if err != nil {
		return 0, nil, "", err
	}
	return parsed.TotalScore, payload, parsed.Feedback, nil
}

type coverageResponse struct {
	CoverageScore float64 `json:"coverageScore"`
	Reason        string  `json:"reason"`
}

// requirementCoverage combines file-structure coverage (fraction of
// required filenames matched by equality or stem containment) with an LLM
// functional-coverage score.
func (c *Checker) requirementCoverage(ctx context.Context, analysis model.Analysis, artifact model.Artifact) (float64, error) {
	fileCoverage := 1.0
	if len(analysis.FileStructure) > 0 {
		matched := 0
		for _, required := range analysis.FileStructure {
			if fileMatches(required, artifact) {
				matched++
			}
		}
		fileCoverage = float64(matched) / float64(len(analysis.FileStructure))
	}

	corpus := truncatedJoinedCode(artifact, promptCap)
	prompt := fmt.Sprintf(
		"Given this functionality and component list, score how completely the code below fulfills the requirement, from 0 to 100.\n\n"+
			"Functionality: %s\nComponents: %s\n\nCode:\n%s\n\n"+
			`Respond with a single JSON object: {"coverageScore": number, "reason": string}`,
		analysis.Functionality, strings.Join(analysis.Components, ", "), corpus,
	)
	res, err := c.registry.CallWithFallback(ctx, prompt, "You audit generated code against requirements.", provider.CallOptions{Temperature: floatPtr(coverageTemperature)})
	if err != nil {
		return 0, err
	}
	var parsed coverageResponse
	if err := parseJSONObject(res.Text, &parsed); err != nil {
		return 0, pipelineerr.NewParseError("quality_checker", err)
	}

	return 0.3*fileCoverage*100 + 0.7*parsed.CoverageScore, nil
}

func fileMatches(required string, artifact model.Artifact) bool {
	requiredName := filepath.Base(required)
	requiredStem := strings.TrimSuffix(requiredName, filepath.Ext(requiredName))
	for path := range artifact {
		name := filepath.Base(path)
		if name == requiredName {
			return true
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if requiredStem != "" && (strings.Contains(stem, requiredStem) || strings.Contains(requiredStem, stem)) {
			return true
		}
	}
	return false
}

func floatPtr(f float64) *float64 { return &f }
