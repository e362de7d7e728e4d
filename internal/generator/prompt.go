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
	"fmt"
	"strings"

	"github.com/aleutianai/reqpipeline/internal/model"
)

// languageContext gives concrete style guidance per target language.
// Unknown languages receive genericContext.
var languageContext = map[string]string{
	"typescript": "Use strict TypeScript, ES module imports, and explicit return types on exported functions.",
	"javascript": "Use modern ES module syntax, avoid CommonJS require(), and prefer async/await over raw promise chains.",
	"python":     "Target Python 3.11+, use type hints on public functions, and follow PEP 8 naming.",
	"java":       "Target Java 17+, place each public class in its own file under a package matching its directory, and favor immutability.",
	"csharp":     "Target.NET 8, use file-scoped namespaces, and favor async/await for I/O.",
	"go":         "Follow standard Go project layout, return explicit errors rather than panicking, and keep exported identifiers documented.",
	"ruby":       "Target Ruby 3.x, follow standard RuboCop style, and prefer keyword arguments for multi-parameter methods.",
	"php":        "Target PHP 8.1+, declare strict_types, and use typed properties and return types.",
}

const genericContext = "Follow standard conventions for the target language."

func languageContextFor(language model.Language) string {
	if ctx, ok := languageContext[strings.ToLower(string(language))]; ok {
		return ctx
	}
	return genericContext
}

func buildPrompt(analysis model.Analysis, language model.Language) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target language: %s\n", language)
	fmt.Fprintf(&b, "Style guidance: %s\n\n", languageContextFor(language))
	fmt.Fprintf(&b, "Title: %s\n", analysis.Title)
	fmt.Fprintf(&b, "Functionality: %s\n", analysis.Functionality)
	if len(analysis.Components) > 0 {
		b.WriteString("Components:\n")
		for _, c := range analysis.Components {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	fmt.Fprintf(&b, "Inputs/Outputs: %s\n", analysis.InputsOutputs)
	fmt.Fprintf(&b, "Dependencies: %s\n", analysis.Dependencies)
	if len(analysis.FileStructure) > 0 {
		b.WriteString("Suggested file structure:\n")
		for _, f := range analysis.FileStructure {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if analysis.ImplementationStrategy != "" {
		fmt.Fprintf(&b, "Implementation strategy: %s\n", analysis.ImplementationStrategy)
	}
	b.WriteString("\nRespond with a single JSON object whose keys are relative file paths (forward slashes, no \".\" segments) and whose values are the complete file contents as strings.\n")
	return b.String()
}
