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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

var ollamaTracer = otel.Tracer("reqpipeline.provider.ollama")

const defaultOllamaMaxTokens = -1 // unbounded, matching Ollama's num_predict semantics

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ollamaAdapter implements the ollama-generate protocol: POST
// ${url}/api/generate with {model, prompt, stream:false, options}.
// The prompt sent is (system + "\n\n") + prompt when a
// system message is supplied, since /api/generate has no separate system
// field.
type ollamaAdapter struct {
	httpClient *http.Client
	endpoint   string
	model      string
}

func newOllamaAdapter(pc config.ProviderConfig) *ollamaAdapter {
	return &ollamaAdapter{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		endpoint:   strings.TrimSuffix(pc.Endpoint, "/"),
		model:      pc.Model,
	}
}

func (a *ollamaAdapter) Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaAdapter.Call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	fullPrompt := prompt
	if system != "" {
		fullPrompt = system + "\n\n" + prompt
	}

	maxTokens := defaultOllamaMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	payload := ollamaGenerateRequest{
		Model:  a.model,
		Prompt: fullPrompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": opts.temperature(),
			"num_predict": maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipelineerr.NewParseError("provider_ollama", fmt.Errorf("marshal request: %w", err))
	}

	url := a.endpoint + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipelineerr.NewRetryable("provider_ollama", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipelineerr.NewRetryable("provider_ollama", fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipelineerr.NewRetryable("provider_ollama", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return "", pipelineerr.NewRetryable("provider_ollama", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var ollamaResp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", pipelineerr.NewParseError("provider_ollama", fmt.Errorf("parse response: %w", err))
	}
	return ollamaResp.Response, nil
}
