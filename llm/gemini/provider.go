// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gemini adapts Google's Generative Language API to llm.Provider.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ado-project/adocore/llm"
)

const (
	DefaultBaseURL   = "https://generativelanguage.googleapis.com"
	DefaultAPIVer    = "v1beta"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 4096
	DefaultModel     = "gemini-2.0-flash"
)

// HTTPClient abstracts http.Client for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider.
type Config struct {
	APIKey  string
	BaseURL string
	APIVer  string
	Model   string
	Timeout time.Duration
	Client  HTTPClient
}

// Provider implements llm.Provider against the Gemini generateContent API.
type Provider struct {
	apiKey  string
	baseURL string
	apiVer  string
	model   string
	client  HTTPClient
}

// New builds a Provider, defaulting optional Config fields.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVer == "" {
		cfg.APIVer = DefaultAPIVer
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, apiVer: cfg.APIVer, model: cfg.Model, client: cfg.Client}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s", p.baseURL, p.apiVer, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("gemini: rate limit exceeded (status %d): %s", resp.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("gemini: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var apiResp generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}

	var text strings.Builder
	if len(apiResp.Candidates) > 0 {
		for _, part := range apiResp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: text.String(),
		Model:   model,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  apiResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
