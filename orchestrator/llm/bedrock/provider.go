// Copyright 2025 ProcureSense
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

// Package bedrock provides an LLM provider implementation for AWS Bedrock
// managed Claude models. Authentication uses AWS Signature V4 via the default
// credential chain, with an optional static credential override for
// deployments that scope Bedrock access to a dedicated key pair.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"procuresense/platform/orchestrator/llm"
)

const (
	// DefaultRegion is the default AWS region
	DefaultRegion = "us-east-1"

	// DefaultModel is the default Bedrock model identifier
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096

	// anthropicVersion is the Bedrock messages API version for Claude models
	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeAPI is the subset of the Bedrock runtime client used by the provider
// (enables testing).
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements the LLM provider interface for AWS Bedrock
type Provider struct {
	name   string
	region string
	model  string
	client InvokeAPI
}

// NewProvider creates a new Bedrock provider from the unified config.
// Credentials come from the default AWS chain; BEDROCK_ACCESS_KEY_ID and
// BEDROCK_SECRET_ACCESS_KEY override it with a static key pair.
func NewProvider(config llm.ProviderConfig) (llm.Provider, error) {
	name := config.Name
	if name == "" {
		name = "bedrock"
	}

	region := config.Region
	if region == "" {
		region = DefaultRegion
	}

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	accessKey := os.Getenv("BEDROCK_ACCESS_KEY_ID")
	secretKey := os.Getenv("BEDROCK_SECRET_ACCESS_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return &Provider{
		name:   name,
		region: region,
		model:  model,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func init() {
	llm.RegisterFactory(llm.ProviderTypeBedrock, NewProvider)
}

// Name returns the provider instance name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeBedrock
}

// Complete generates a completion by invoking the configured Bedrock model
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	if !strings.HasPrefix(model, "anthropic.") {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeModelNotFound,
			fmt.Sprintf("unsupported Bedrock model family: %s", model))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		Messages: []claudeMessage{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, &llm.ProviderError{
			Provider:  p.name,
			Code:      llm.ErrCodeUnavailable,
			Message:   "bedrock invocation failed",
			Retryable: true,
			Cause:     err,
		}
	}

	var apiResp claudeResponse
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &llm.CompletionResponse{
		Content: contentBuilder.String(),
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency:      time.Since(start),
		FinishReason: apiResp.StopReason,
	}, nil
}

// HealthCheck reports healthy when the client is configured. A full
// invocation is not performed to avoid per-check inference cost.
func (p *Provider) HealthCheck(_ context.Context) (*llm.HealthCheckResult, error) {
	status := llm.HealthStatusHealthy
	message := ""
	if p.client == nil {
		status = llm.HealthStatusUnhealthy
		message = "bedrock client not initialized"
	}
	return &llm.HealthCheckResult{
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}, nil
}

// Internal API types for the Claude messages body

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature,omitempty"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
