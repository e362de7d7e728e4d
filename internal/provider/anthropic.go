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
	"time"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

const anthropicAPIVersion = "2023-06-01"
const defaultAnthropicMaxTokens = 4096

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicAdapter implements the anthropic-messages protocol: POST
// ${url}/v1/messages with x-api-key and anthropic-version headers.
type anthropicAdapter struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

func newAnthropicAdapter(pc config.ProviderConfig) *anthropicAdapter {
	return &anthropicAdapter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   pc.Endpoint,
		apiKey:     pc.Credential,
		model:      pc.Model,
	}
}

func (a *anthropicAdapter) Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error) {
	maxTokens := defaultAnthropicMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	reqPayload := anthropicRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: opts.temperature(),
	}
	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", pipelineerr.NewParseError("provider_anthropic", fmt.Errorf("marshal request: %w", err))
	}

	url := a.endpoint + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_anthropic", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_anthropic", fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_anthropic", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pipelineerr.NewRetryable("provider_anthropic", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", pipelineerr.NewParseError("provider_anthropic", fmt.Errorf("parse response: %w", err))
	}
	if apiResp.Error != nil {
		return "", pipelineerr.NewRetryable("provider_anthropic", fmt.Errorf("api error: %s: %s", apiResp.Error.Type, apiResp.Error.Message))
	}
	if len(apiResp.Content) == 0 {
		return "", pipelineerr.NewParseError("provider_anthropic", fmt.Errorf("empty content block"))
	}
	return apiResp.Content[0].Text, nil
}
