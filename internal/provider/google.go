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

const defaultGoogleMaxOutputTokens = 4096

type googleRequest struct {
	Contents          []googleContent `json:"contents"`
	GenerationConfig  googleGenConfig `json:"generationConfig"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type googleResponse struct {
	Candidates []googleCandidate `json:"candidates"`
	Error      *googleError      `json:"error,omitempty"`
}

type googleCandidate struct {
	Content googleContent `json:"content"`
}

type googleError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// googleAdapter implements the google-generate protocol: POST
// ${url}/models/${model}:generateContent?key=${apiKey}.
type googleAdapter struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

func newGoogleAdapter(pc config.ProviderConfig) *googleAdapter {
	return &googleAdapter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   pc.Endpoint,
		apiKey:     pc.Credential,
		model:      pc.Model,
	}
}

func (a *googleAdapter) Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error) {
	maxTokens := defaultGoogleMaxOutputTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	reqPayload := googleRequest{
		Contents: []googleContent{{Parts: []googlePart{{Text: prompt}}}},
		GenerationConfig: googleGenConfig{
			Temperature:     opts.temperature(),
			MaxOutputTokens: maxTokens,
		},
	}
	if system != "" {
		reqPayload.SystemInstruction = &googleContent{Parts: []googlePart{{Text: system}}}
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", pipelineerr.NewParseError("provider_google", fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.endpoint, a.model, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_google", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_google", fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_google", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", pipelineerr.NewRetryable("provider_google", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var apiResp googleResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", pipelineerr.NewParseError("provider_google", fmt.Errorf("parse response: %w", err))
	}
	if apiResp.Error != nil {
		return "", pipelineerr.NewRetryable("provider_google", fmt.Errorf("api error: %s", apiResp.Error.Message))
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", pipelineerr.NewParseError("provider_google", fmt.Errorf("no candidate text"))
	}
	return apiResp.Candidates[0].Content.Parts[0].Text, nil
}
