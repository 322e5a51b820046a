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

// Package anthropic provides an LLM provider implementation for Anthropic's
// Claude models via the messages API.
package anthropic

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
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultModel is the default model for completions
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the LLM provider interface for Anthropic Claude
type Provider struct {
	name       string
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
	retry      sdk.RetryConfig
}

// NewProvider creates a new Anthropic provider from the unified config.
func NewProvider(config llm.ProviderConfig) (llm.Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	name := config.Name
	if name == "" {
		name = "anthropic"
	}

	baseURL := config.Endpoint
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	timeout := DefaultTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}

	return &Provider{
		name:       name,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		apiVersion: DefaultAPIVersion,
		model:      model,
		client:     &http.Client{Timeout: timeout},
		retry:      *sdk.DefaultRetryConfig(),
	}, nil
}

func init() {
	llm.RegisterFactory(llm.ProviderTypeAnthropic, NewProvider)
}

// Name returns the provider instance name
func (p *Provider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType {
	return llm.ProviderTypeAnthropic
}

// Complete generates a completion using the messages API with exponential
// backoff on retryable errors.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return sdk.RetryWithBackoff(ctx, p.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return p.complete(ctx, req)
	})
}

func (p *Provider) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: req.Prompt},
		},
	}
	if req.SystemPrompt != "" {
		apiReq.System = req.SystemPrompt
	}
	// 0.0 is a valid temperature for deterministic outputs
	if req.Temperature >= 0 {
		apiReq.Temperature = &req.Temperature
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, llm.NewProviderError(p.name, llm.ErrCodeTimeout, "anthropic request timed out")
		}
		return nil, &llm.ProviderError{
			Provider:  p.name,
			Code:      llm.ErrCodeUnavailable,
			Message:   "anthropic API unreachable",
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

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
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
		Model:   apiResp.Model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency:      time.Since(start),
		FinishReason: apiResp.StopReason,
	}, nil
}

// HealthCheck verifies API connectivity and authentication
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthCheckResult, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &llm.HealthCheckResult{
			Status:      llm.HealthStatusUnhealthy,
			Latency:     time.Since(start),
			Message:     fmt.Sprintf("anthropic unreachable: %v", err),
			LastChecked: time.Now(),
		}, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	status := llm.HealthStatusHealthy
	message := ""
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		status = llm.HealthStatusUnhealthy
		message = "authentication failed"
	case resp.StatusCode != http.StatusOK:
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

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

// parseAPIError maps an Anthropic error response to a ProviderError
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	errType := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		errType = errResp.Error.Type
	}

	code := llm.ErrCodeServerError
	switch {
	case statusCode == http.StatusUnauthorized || errType == "authentication_error":
		code = llm.ErrCodeAuth
	case statusCode == http.StatusTooManyRequests || errType == "rate_limit_error":
		code = llm.ErrCodeRateLimit
	case statusCode == http.StatusServiceUnavailable || errType == "overloaded_error":
		code = llm.ErrCodeUnavailable
	case statusCode == http.StatusBadRequest:
		code = llm.ErrCodeInvalidRequest
	case statusCode == http.StatusNotFound:
		code = llm.ErrCodeModelNotFound
	}

	perr := llm.NewProviderError(p.name, code, message)
	perr.StatusCode = statusCode
	return perr
}

// Internal API types

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
