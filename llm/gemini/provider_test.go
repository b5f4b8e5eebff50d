// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gemini

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/llm"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestCompleteParsesCandidateText(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body := `{"candidates":[{"content":{"parts":[{"text":"hi there"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
	})

	p, err := New(Config{APIKey: "key", Client: client})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestCompleteRateLimit(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
	})
	p, err := New(Config{APIKey: "key", Client: client})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
