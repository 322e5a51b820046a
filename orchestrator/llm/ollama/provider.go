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

// Package ollama provides an LLM provider implementation for self-hosted
// Ollama models. It is the default provider for local deployments.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/orchestrator/llm/sdk"
)

const (
	// DefaultEndpoint is the default Ollama server address
	DefaultEndpoint = "http://localhost:11434"

	// DefaultModel is the default model for completions
	DefaultModel = "llama3.1:8b"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the LLM provider interface for Ollama
type Provider struct {
	name      string
	endpoint  string
	model     string
	maxTokens int
	client    HTTPClient
	retry     sdk.RetryConfig
	breaker   *sdk.CircuitBreaker
}

// NewProvider creates a new Ollama provider from the unified config.
func NewProvider(config llm.ProviderConfig) (llm.Provider, error) {
	name := config.Name
	if name == "" {
		name = "ollama"
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	timeout := DefaultTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}

	return &Provider{
		name:      name,
		endpoint:  endpoint,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
		retry:     *sdk.DefaultRetryConfig(),
		breaker:   sdk.NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

func init() {
	llm.RegisterFactory(llm.ProviderTypeOllama, NewProvider)
}

// Name returns the provider instance name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeOllama
}

// Complete generates a completion using the Ollama generate API with
// exponential backoff on retryable errors.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if !p.breaker.Allow() {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeUnavailable, "circuit breaker open")
	}

	resp, err := sdk.RetryWithBackoff(ctx, p.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return p.complete(ctx, req)
	})
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}
	p.breaker.RecordSuccess()
	return resp, nil
}

func (p *Provider) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	apiReq := generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  maxTokens,
			Temperature: req.Temperature,
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, llm.NewProviderError(p.name, llm.ErrCodeTimeout, "ollama request timed out")
		}
		return nil, &llm.ProviderError{
			Provider:  p.name,
			Code:      llm.ErrCodeUnavailable,
			Message:   "ollama server unreachable",
			Retryable: true,
			Cause:     err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	var apiResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &llm.CompletionResponse{
		Content: apiResp.Response,
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.PromptEvalCount,
			CompletionTokens: apiResp.EvalCount,
			TotalTokens:      apiResp.PromptEvalCount + apiResp.EvalCount,
		},
		Latency:      time.Since(start),
		FinishReason: apiResp.DoneReason,
	}, nil
}

// HealthCheck verifies the Ollama server is reachable
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthCheckResult, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &llm.HealthCheckResult{
			Status:      llm.HealthStatusUnhealthy,
			Latency:     time.Since(start),
			Message:     fmt.Sprintf("ollama unreachable: %v", err),
			LastChecked: time.Now(),
		}, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	status := llm.HealthStatusHealthy
	message := ""
	if resp.StatusCode != http.StatusOK {
		status = llm.HealthStatusDegraded
		message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	return &llm.HealthCheckResult{
		Status:      status,
		Latency:     time.Since(start),
		Message:     message,
		LastChecked: time.Now(),
	}, nil
}

// parseAPIError maps an Ollama error response to a ProviderError
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}

	code := llm.ErrCodeServerError
	switch {
	case statusCode == http.StatusNotFound:
		code = llm.ErrCodeModelNotFound
	case statusCode == http.StatusBadRequest:
		code = llm.ErrCodeInvalidRequest
	case statusCode == http.StatusTooManyRequests:
		code = llm.ErrCodeRateLimit
	}

	perr := llm.NewProviderError(p.name, code, message)
	perr.StatusCode = statusCode
	return perr
}

// Internal API types

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
