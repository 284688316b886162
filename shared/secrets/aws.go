// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the AWS client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager resolves references through AWS Secrets Manager with a TTL cache.
type AWSSecretsManager struct {
	client SecretsManagerAPI
	cache  map[string]*cacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type cacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSOptions configures NewAWSSecretsManager.
type AWSOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager loads the default AWS config and builds a client.
func NewAWSSecretsManager(ctx context.Context, opts AWSOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg), opts), nil
}

// NewAWSSecretsManagerWithClient wraps an existing client.
func NewAWSSecretsManagerWithClient(client SecretsManagerAPI, opts AWSOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*cacheEntry),
		ttl:    ttl,
		logger: logger,
	}
}

// GetSecret fetches a secret. JSON objects are returned as-is; any other
// payload is returned under the "value" key.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, arn string) (map[string]string, error) {
	s.mu.RLock()
	entry, ok := s.cache[arn]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(arn), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(arn))
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &payload); err != nil {
		payload = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[arn] = &cacheEntry{value: payload, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	s.logger.Printf("Fetched and cached secret %s", maskARN(arn))
	return payload, nil
}

// Invalidate drops every cached secret. Called on provider refresh.
func (s *AWSSecretsManager) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]*cacheEntry)
	s.mu.Unlock()
}

// MapStore is an in-memory Store for development and tests.
type MapStore map[string]map[string]string

// GetSecret implements Store.
func (m MapStore) GetSecret(_ context.Context, arn string) (map[string]string, error) {
	if v, ok := m[arn]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret %s not found", maskARN(arn))
}
