// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package bedrock adapts AWS Bedrock's InvokeModel API to llm.Provider,
// using the AWS SDK v2 client for Signature V4 authentication via IAM
// roles rather than a bearer token or API key.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ado-project/adocore/llm"
)

const (
	DefaultMaxTokens = 4096
	DefaultModel     = "anthropic.claude-3-5-sonnet-20241022-v2:0"
)

// Config configures a Provider.
type Config struct {
	Region string
	Model  string
}

// Provider implements llm.Provider against AWS Bedrock's Anthropic-family
// models via InvokeModel.
type Provider struct {
	client *bedrockruntime.Client
	model  string
}

// New resolves AWS credentials/config for cfg.Region and builds a
// Bedrock runtime client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Provider{client: bedrockruntime.NewFromConfig(awsCfg), model: cfg.Model}, nil
}

// Complete implements llm.Provider. Only the Anthropic Claude-on-Bedrock
// request/response shape is supported; other model families would need
// their own request builder, per Bedrock's per-family body format.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := anthropicInvokeBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		Messages:         []invokeMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.SystemPrompt != "" {
		body.System = req.SystemPrompt
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyInvokeError(err)
	}

	var resp anthropicInvokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	content := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &llm.CompletionResponse{
		Content: content,
		Model:   model,
		Usage: llm.UsageStats{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func classifyInvokeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "TooManyRequestsException") {
		return fmt.Errorf("bedrock: rate limit exceeded: %w", err)
	}
	return fmt.Errorf("bedrock: invoke model: %w", err)
}

type invokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicInvokeBody struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature,omitempty"`
	System           string          `json:"system,omitempty"`
	Messages         []invokeMessage `json:"messages"`
}

type anthropicInvokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
