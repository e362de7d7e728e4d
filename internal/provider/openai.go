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
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

const defaultOpenAIMaxTokens = 4096

// ollamaCredentialSentinel marks a ProviderConfig whose openai-chat adapter
// points at an OpenAI-compatible local server that rejects requests
// carrying an Authorization header at all, rather than merely ignoring it.
const ollamaCredentialSentinel = "ollama"

// openaiAdapter implements the openai-chat protocol: POST
// ${url}/chat/completions with {model, messages, temperature, max_tokens}.
// Bearer auth is used unless the sentinel credential
// "ollama" is configured, in which case the Authorization header is
// stripped from every outgoing request rather than merely set empty.
type openaiAdapter struct {
	client *openai.Client
	model  string
}

func newOpenAIAdapter(pc config.ProviderConfig) *openaiAdapter {
	cfg := openai.DefaultConfig(pc.Credential)
	cfg.BaseURL = pc.Endpoint
	if pc.Credential == ollamaCredentialSentinel {
		cfg.HTTPClient = &http.Client{Transport: stripAuthTransport{}}
	}
	return &openaiAdapter{client: openai.NewClientWithConfig(cfg), model: pc.Model}
}

// stripAuthTransport deletes any Authorization header go-openai attached
// before handing the request to the default transport, so the sentinel
// "ollama" credential never reaches the wire.
type stripAuthTransport struct{}

func (stripAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Del("Authorization")
	return http.DefaultTransport.RoundTrip(req)
}

func (a *openaiAdapter) Call(ctx context.Context, prompt, system string, opts CallOptions) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	maxTokens := defaultOpenAIMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: float32(opts.temperature()),
		MaxTokens:   maxTokens,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", pipelineerr.NewRetryable("provider_openai", fmt.Errorf("openai call failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", pipelineerr.NewParseError("provider_openai", fmt.Errorf("openai returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
