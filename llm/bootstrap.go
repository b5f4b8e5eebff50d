// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// CredentialStore resolves provider API keys by name, so Router
// construction doesn't need to read environment variables directly.
type CredentialStore interface {
	GetCredential(ctx context.Context, providerName string) (string, error)
}

// SecretsManagerStore resolves provider credentials from a single AWS
// Secrets Manager secret holding a JSON object of provider name → API key,
// cached for a configurable TTL to avoid a round trip per Router rebuild.
type SecretsManagerStore struct {
	client    *secretsmanager.Client
	secretARN string
	ttl       time.Duration

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// NewSecretsManagerStore builds a store against secretARN, a secret
// whose value is `{"anthropic": "sk-...", "gemini": "...", ...}`.
func NewSecretsManagerStore(ctx context.Context, region, secretARN string, ttl time.Duration) (*SecretsManagerStore, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: load AWS config: %w", err)
	}
	return &SecretsManagerStore{
		client:    secretsmanager.NewFromConfig(cfg),
		secretARN: secretARN,
		ttl:       ttl,
	}, nil
}

// GetCredential implements CredentialStore.
func (s *SecretsManagerStore) GetCredential(ctx context.Context, providerName string) (string, error) {
	values, err := s.values(ctx)
	if err != nil {
		return "", err
	}
	key, ok := values[providerName]
	if !ok {
		return "", fmt.Errorf("llm: no credential for provider %q", providerName)
	}
	return key, nil
}

func (s *SecretsManagerStore) values(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.cachedAt) < s.ttl {
		defer s.mu.RUnlock()
		return s.cached, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &s.secretARN})
	if err != nil {
		return nil, fmt.Errorf("llm: fetch secret: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, fmt.Errorf("llm: decode secret: %w", err)
	}

	s.mu.Lock()
	s.cached = values
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return values, nil
}
