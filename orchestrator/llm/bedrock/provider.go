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

// Package bedrock invokes Anthropic models hosted on AWS Bedrock. Requests
// are signed with the default AWS credential chain; no API key is stored.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/anthropic"
)

const (
	// Key is the provider key.
	Key = "bedrock"

	DefaultRegion = "us-east-1"
	DefaultModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock provider.
type Config struct {
	Region string
	Model  string
}

// Provider implements llm.Provider over InvokeModel.
type Provider struct {
	client InvokeModelAPI
	region string
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider loads the default AWS configuration for cfg.Region.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, llm.Errorf(Key, llm.CategoryAuth, "failed to load AWS config (region: %s): %v", cfg.Region, err).WithCause(err)
	}
	return NewProviderWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewProviderWithClient builds a provider around an existing client.
func NewProviderWithClient(client InvokeModelAPI, cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Provider{client: client, region: cfg.Region, model: cfg.Model}
}

// New is the llm.Factory for bedrock. The region comes from the "region"
// setting.
func New(cfg llm.AdapterConfig) (llm.Provider, error) {
	p, err := NewProvider(context.Background(), Config{Region: cfg.Setting("region"), Model: cfg.Model})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Key returns the provider key.
func (p *Provider) Key() string { return Key }

// SupportsStreaming reports false; the bus delivers the full reply as one chunk.
func (p *Provider) SupportsStreaming() bool { return false }

// Complete invokes the model with an Anthropic Messages body.
func (p *Provider) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	req, err := anthropic.BuildRequest(Key, messages, opts)
	if err != nil {
		return llm.Response{}, err
	}
	req.AnthropicVersion = anthropicVersion

	body, err := json.Marshal(req)
	if err != nil {
		return llm.Response{}, llm.Errorf(Key, llm.CategoryValidation, "failed to encode request: %v", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(opts.ModelOr(p.model)),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return llm.Response{}, classify(err)
	}

	var decoded anthropic.Response
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return llm.Response{}, llm.ReadError(Key, err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(out.Body, &raw)
	return anthropic.ToResponse(Key, decoded, raw)
}

// Stream is not supported by this adapter.
func (p *Provider) Stream(ctx context.Context, messages []llm.Message, onDelta llm.StreamHandler, opts llm.Options) (llm.Response, error) {
	return llm.Response{}, llm.NewProviderError(Key, llm.CategoryInternal, "streaming is not supported")
}

// classify maps an AWS SDK error onto the shared status table.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.AsProviderError(Key, err)
	}

	message := err.Error()
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceQuotaExceededException":
			return llm.NewProviderError(Key, llm.CategoryRateLimit, message).WithCause(err)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return llm.NewProviderError(Key, llm.CategoryAuth, message).WithCause(err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		pe := &llm.ProviderError{
			Provider:   Key,
			Category:   llm.CategoryForStatus(status),
			Message:    message,
			StatusCode: status,
			Cause:      err,
		}
		return pe.WithContext("status", status)
	}
	return llm.NewProviderError(Key, llm.CategoryService, fmt.Sprintf("bedrock request failed: %s", message)).WithCause(err)
}
