// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quality

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
)

// truncatedCorpus caps each file at perFileCap characters and the overall
// rendered corpus near promptCap characters.
func truncatedCorpus(artifact model.Artifact) string {
	paths := sortedPaths(artifact)
	var b strings.Builder
	for _, path := range paths {
		content := artifact[path]
		if len(content) > perFileCap {
			content = content[:perFileCap] + "\n... [truncated]"
		}
		section := fmt.Sprintf("--- %s ---\n%s\n\n", path, content)
		if b.Len()+len(section) > promptCap {
			remaining := promptCap - b.Len()
			if remaining > 0 {
				b.WriteString(section[:remaining])
			}
			break
		}
		b.WriteString(section)
	}
	return b.String()
}

// truncatedJoinedCode concatenates every file's content, capped overall at
// limit characters.
func truncatedJoinedCode(artifact model.Artifact, limit int) string {
	paths := sortedPaths(artifact)
	var b strings.Builder
	for _, path := range paths {
		if b.Len() >= limit {
			break
		}
		b.WriteString(artifact[path])
		b.WriteString("\n")
	}
	s := b.String()
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func sortedPaths(artifact model.Artifact) []string {
	paths := make([]string, 0, len(artifact))
	for p := range artifact {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var firstJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONObject attempts strict JSON first, then a fenced or embedded
// JSON object, mirroring the strict-then-heuristic strategy used
// throughout the pipeline's LLM response parsing.
func parseJSONObject(text string, out interface{}) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), out); err == nil {
			return nil
		}
	}
	if m := firstJSONObject.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("could not parse a JSON object from model response")
}
