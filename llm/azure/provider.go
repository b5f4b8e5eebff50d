// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package azure adapts Azure OpenAI Service's chat completions API to
// llm.Provider, supporting both static API keys and Entra ID bearer
// tokens obtained through azidentity.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/ado-project/adocore/llm"
)

const (
	DefaultAPIVersion = "2024-08-01-preview"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxTokens  = 4096

	tokenScope = "https://cognitiveservices.azure.com/.default"
)

// HTTPClient abstracts http.Client for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider. Set APIKey for static-key auth, or leave
// it empty to use azidentity.DefaultAzureCredential for Entra ID auth.
type Config struct {
	Endpoint       string
	APIKey         string
	DeploymentName string
	APIVersion     string
	Timeout        time.Duration
	Client         HTTPClient
}

// Provider implements llm.Provider against Azure OpenAI's chat
// completions endpoint.
type Provider struct {
	endpoint       string
	apiKey         string
	deploymentName string
	apiVersion     string
	client         HTTPClient
	cred           *azidentity.DefaultAzureCredential
}

// New builds a Provider. When cfg.APIKey is empty it resolves
// credentials via azidentity.NewDefaultAzureCredential.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" || cfg.DeploymentName == "" {
		return nil, fmt.Errorf("azure: endpoint and deployment name are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	p := &Provider{
		endpoint:       cfg.Endpoint,
		apiKey:         cfg.APIKey,
		deploymentName: cfg.DeploymentName,
		apiVersion:     cfg.APIVersion,
		client:         cfg.Client,
	}

	if p.apiKey == "" {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure: resolve default credential: %w", err)
		}
		p.cred = cred
	}

	return p, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := []chatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	apiReq := chatCompletionRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("azure: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", p.endpoint, p.deploymentName, p.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := p.authenticate(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("azure: rate limit exceeded (status %d): %s", resp.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("azure: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var apiResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("azure: decode response: %w", err)
	}

	content := ""
	if len(apiResp.Choices) > 0 {
		content = apiResp.Choices[0].Message.Content
	}

	return &llm.CompletionResponse{
		Content: content,
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) authenticate(ctx context.Context, req *http.Request) error {
	if p.apiKey != "" {
		req.Header.Set("api-key", p.apiKey)
		return nil
	}
	token, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{tokenScope}})
	if err != nil {
		return fmt.Errorf("azure: acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
