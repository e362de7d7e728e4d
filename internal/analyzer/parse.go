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
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
)

// rawAnalysis mirrors the JSON shape requested of the model.
type rawAnalysis struct {
	Title                  string   `json:"title"`
	Functionality          string   `json:"functionality"`
	Components             []string `json:"components"`
	InputsOutputs          string   `json:"inputsOutputs"`
	Dependencies           string   `json:"dependencies"`
	FileStructure          []string `json:"fileStructure"`
	ImplementationStrategy string   `json:"implementationStrategy"`
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var firstJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// section label patterns for the heuristic fallback, case-insensitive and
// anchored to a line start, mirroring the compiled-pattern-per-label shape
// used by the policy engine's classification rules.
var (
	labelTitle          = regexp.MustCompile(`(?im)^\s*title\s*[:\-]\s*(.+)$`)
	labelFunctionality  = regexp.MustCompile(`(?im)^\s*main functionality\s*[:\-]\s*(.+)$`)
	labelComponents     = regexp.MustCompile(`(?im)^\s*(?:components|modules)\s*[:\-]?\s*$`)
	labelInputsOutputs  = regexp.MustCompile(`(?im)^\s*inputs and outputs\s*[:\-]\s*(.+)$`)
	labelDependencies   = regexp.MustCompile(`(?im)^\s*dependencies(?: or constraints)?\s*[:\-]\s*(.+)$`)
	labelFileStructure  = regexp.MustCompile(`(?im)^\s*file structure\s*[:\-]?\s*$`)
	labelStrategy       = regexp.MustCompile(`(?im)^\s*implementation strategy\s*[:\-]\s*(.+)$`)
	bulletOrNumberedRow = regexp.MustCompile(`^\s*(?:[-*\x{2022}]\s+|\d+\.\s+)(.+)$`)
)

// parseAnalysis attempts strict JSON, then a fenced/embedded JSON object,
// then heuristic section extraction.
func parseAnalysis(text string) (model.Analysis, error) {
	if a, ok := tryStrictJSON(text); ok {
		return a, nil
	}
	if a, ok := tryEmbeddedJSON(text); ok {
		return a, nil
	}
	return heuristicExtract(text), nil
}

func tryStrictJSON(text string) (model.Analysis, bool) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return model.Analysis{}, false
	}
	return raw.toAnalysis(), true
}

func tryEmbeddedJSON(text string) (model.Analysis, bool) {
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var raw rawAnalysis
		if err := json.Unmarshal([]byte(m[1]), &raw); err == nil {
			return raw.toAnalysis(), true
		}
	}
	if m := firstJSONObject.FindString(text); m != "" {
		var raw rawAnalysis
		if err := json.Unmarshal([]byte(m), &raw); err == nil {
			return raw.toAnalysis(), true
		}
	}
	return model.Analysis{}, false
}

func (r rawAnalysis) toAnalysis() model.Analysis {
	return model.Analysis{
		Title:                  r.Title,
		Functionality:          r.Functionality,
		Components:             r.Components,
		InputsOutputs:          r.InputsOutputs,
		Dependencies:           r.Dependencies,
		FileStructure:          r.FileStructure,
		ImplementationStrategy: r.ImplementationStrategy,
	}
}

// heuristicExtract never fails: missing labels yield empty strings/lists.
func heuristicExtract(text string) model.Analysis {
	a := model.Analysis{}
	if m := labelTitle.FindStringSubmatch(text); m != nil {
		a.Title = strings.TrimSpace(m[1])
	}
	if m := labelFunctionality.FindStringSubmatch(text); m != nil {
		a.Functionality = strings.TrimSpace(m[1])
	}
	if m := labelInputsOutputs.FindStringSubmatch(text); m != nil {
		a.InputsOutputs = strings.TrimSpace(m[1])
	}
	if m := labelDependencies.FindStringSubmatch(text); m != nil {
		a.Dependencies = strings.TrimSpace(m[1])
	}
	if m := labelStrategy.FindStringSubmatch(text); m != nil {
		a.ImplementationStrategy = strings.TrimSpace(m[1])
	}
	a.Components = extractListAfterLabel(text, labelComponents)
	a.FileStructure = extractListAfterLabel(text, labelFileStructure)
	return a
}

// extractListAfterLabel reads bullet or numbered rows following the line
// matched by label, stopping at the first blank line or unrecognized row.
func extractListAfterLabel(text string, label *regexp.Regexp) []string {
	loc := label.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	rest := text[loc[1]:]
	lines := strings.Split(rest, "\n")
	var items []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(items) > 0 {
				break
			}
			continue
		}
		m := bulletOrNumberedRow.FindStringSubmatch(line)
		if m == nil {
			break
		}
		items = append(items, strings.TrimSpace(m[1]))
	}
	return items
}

// NormalizePriority maps free-form priority text (English or Chinese
// tokens) to the closed {low, medium, high, critical} set; unrecognized
// input defaults to medium.
func NormalizePriority(raw string) model.Priority {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case containsAny(lower, "critical", "urgent", "紧急", "严重"):
		return model.PriorityCritical
	case containsAny(lower, "high", "重要", "高"):
		return model.PriorityHigh
	case containsAny(lower, "low", "低"):
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

// ConstraintType is the closed set a dependency/constraint note is mapped
// to. Security constraints are preserved as their own value rather than
// folding into business, so a downstream reviewer can filter on them
// directly.
type ConstraintType string

const (
	ConstraintTechnical ConstraintType = "technical"
	ConstraintBusiness  ConstraintType = "business"
	ConstraintSecurity  ConstraintType = "security"
)

// NormalizeConstraintType maps free-form constraint text to {technical,
// business, security}; unrecognized input defaults to technical.
func NormalizeConstraintType(raw string) ConstraintType {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case containsAny(lower, "security", "secure", "auth", "安全"):
		return ConstraintSecurity
	case containsAny(lower, "business", "商业", "业务"):
		return ConstraintBusiness
	default:
		return ConstraintTechnical
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

var errEmptyResponse = errors.New("analyzer: empty response text")
