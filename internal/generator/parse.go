// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var firstJSONObject = regexp.MustCompile(`(?s)\{.*\}`)

// pathHeaderFence matches a fenced code block whose first line ends in a
// file extension, the ```\nsrc/main.go\n<content>\n``` shape. The whole
// first line is taken as the path, so a first line such as
// "// path: src/main.go" is matched too and kept verbatim as the key.
var pathHeaderFence = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n([^\\n`]+\\.[a-zA-Z0-9]+)\\n(.*?)```")

// markdownFileHeader matches a Markdown header (H1-H3) whose text is a
// bare filename with an extension.
var markdownFileHeader = regexp.MustCompile(`(?m)^#{1,3}\s+` + "`?" + `([\w./-]+\.[A-Za-z0-9]+)` + "`?" + `\s*$`)
var codeFenceBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n(.*?)```")

// parseArtifact follows the same strict-then-heuristic strategy as the
// Analyzer, with two additional generator-specific fallbacks: path-headed
// code fences, and Markdown filename headers paired against the ordered
// sequence of fenced code blocks.
func parseArtifact(text string) (model.Artifact, error) {
	if a, ok := tryStrictJSON(text); ok {
		return a, nil
	}
	if a, ok := tryEmbeddedJSON(text); ok && len(a) > 0 {
		return a, nil
	}
	if a := tryPathHeaderFences(text); len(a) > 0 {
		return a, nil
	}
	if a := tryHeaderPairing(text); len(a) > 0 {
		return a, nil
	}
	return nil, fmt.Errorf("generator: could not parse any file content from model response")
}

func tryStrictJSON(text string) (model.Artifact, bool) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, false
	}
	return normalizeArtifact(raw), true
}

func tryEmbeddedJSON(text string) (model.Artifact, bool) {
	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		var raw map[string]string
		if err := json.Unmarshal([]byte(m[1]), &raw); err == nil {
			return normalizeArtifact(raw), true
		}
	}
	if m := firstJSONObject.FindString(text); m != "" {
		var raw map[string]string
		if err := json.Unmarshal([]byte(m), &raw); err == nil {
			return normalizeArtifact(raw), true
		}
	}
	return nil, false
}

func tryPathHeaderFences(text string) model.Artifact {
	matches := pathHeaderFence.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := model.Artifact{}
	for _, m := range matches {
		path := normalizePath(m[1])
		if path == "" {
			continue
		}
		out[path] = strings.TrimRight(m[2], "\n")
	}
	return out
}

func tryHeaderPairing(text string) model.Artifact {
	headers := markdownFileHeader.FindAllStringSubmatchIndex(text, -1)
	fences := codeFenceBlock.FindAllStringSubmatch(text, -1)
	if len(headers) == 0 || len(fences) == 0 {
		return nil
	}
	out := model.Artifact{}
	// Pair the nth header with the nth fenced block, in document order.
	for i, h := range headers {
		if i >= len(fences) {
			break
		}
		path := normalizePath(text[h[2]:h[3]])
		if path == "" {
			continue
		}
		out[path] = strings.TrimRight(fences[i][1], "\n")
	}
	return out
}

// normalizeArtifact drops keys that violate the Generated Artifact
// invariant (empty path, ".." segment) and normalizes separators to "/".
func normalizeArtifact(raw map[string]string) model.Artifact {
	out := model.Artifact{}
	for k, v := range raw {
		path := normalizePath(k)
		if path == "" {
			continue
		}
		out[path] = v
	}
	return out
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return ""
		}
	}
	return p
}
