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

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/orchestrator/llm/sdk"
)

type fakeClient struct {
	responses []*http.Response
	err       error
	requests  []*http.Request
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newFakeProvider(t *testing.T, client *fakeClient) *Provider {
	t.Helper()
	provider, err := NewProvider(llm.ProviderConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	p := provider.(*Provider)
	p.client = client
	p.retry = sdk.RetryConfig{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1.0,
		RetryIf:        sdk.DefaultRetryable,
	}
	return p
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(llm.ProviderConfig{})
	assert.ErrorContains(t, err, "API key is required")
}

func TestNewProviderDefaults(t *testing.T) {
	provider, err := NewProvider(llm.ProviderConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)

	p := provider.(*Provider)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, llm.ProviderTypeAnthropic, p.Type())
	assert.Equal(t, DefaultBaseURL, p.baseURL)
	assert.Equal(t, DefaultModel, p.model)
	assert.Equal(t, DefaultAPIVersion, p.apiVersion)
}

func TestCompleteSuccess(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{jsonResponse(http.StatusOK, `{
		"id": "msg_1",
		"model": "claude-3-5-sonnet-20241022",
		"stop_reason": "end_turn",
		"content": [
			{"type": "text", "text": "Proposal "},
			{"type": "tool_use", "text": "ignored"},
			{"type": "text", "text": "drafted."}
		],
		"usage": {"input_tokens": 300, "output_tokens": 80}
	}`)}}
	p := newFakeProvider(t, client)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a procurement assistant.",
		Prompt:       "Draft a proposal.",
		Temperature:  0.3,
	})
	require.NoError(t, err)

	// text blocks are concatenated, other block types skipped
	assert.Equal(t, "Proposal drafted.", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 300, resp.Usage.PromptTokens)
	assert.Equal(t, 80, resp.Usage.CompletionTokens)
	assert.Equal(t, 380, resp.Usage.TotalTokens)

	require.Len(t, client.requests, 1)
	sent := client.requests[0]
	assert.Equal(t, "/v1/messages", sent.URL.Path)
	assert.Equal(t, "sk-ant-test", sent.Header.Get("x-api-key"))
	assert.Equal(t, DefaultAPIVersion, sent.Header.Get("anthropic-version"))

	var apiReq messagesRequest
	require.NoError(t, json.NewDecoder(sent.Body).Decode(&apiReq))
	assert.Equal(t, "You are a procurement assistant.", apiReq.System)
	require.Len(t, apiReq.Messages, 1)
	assert.Equal(t, "user", apiReq.Messages[0].Role)
	require.NotNil(t, apiReq.Temperature)
	assert.Equal(t, 0.3, *apiReq.Temperature)
}

func TestParseAPIErrorMappings(t *testing.T) {
	p := newFakeProvider(t, &fakeClient{})

	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   string
	}{
		{"auth by status", http.StatusUnauthorized, `{"error": {"type": "authentication_error", "message": "bad key"}}`, llm.ErrCodeAuth},
		{"rate limit by type", http.StatusOK, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`, llm.ErrCodeRateLimit},
		{"overloaded", http.StatusServiceUnavailable, `{"error": {"type": "overloaded_error", "message": "busy"}}`, llm.ErrCodeUnavailable},
		{"invalid request", http.StatusBadRequest, `{"error": {"type": "invalid_request_error", "message": "bad"}}`, llm.ErrCodeInvalidRequest},
		{"model not found", http.StatusNotFound, `{"error": {"type": "not_found_error", "message": "nope"}}`, llm.ErrCodeModelNotFound},
		{"server error fallback", http.StatusInternalServerError, `oops`, llm.ErrCodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.parseAPIError(tt.statusCode, []byte(tt.body))
			var perr *llm.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantCode, perr.Code)
		})
	}
}

func TestCompleteInvalidRequestIsNotRetried(t *testing.T) {
	client := &fakeClient{responses: []*http.Response{
		jsonResponse(http.StatusBadRequest, `{"error": {"type": "invalid_request_error", "message": "max_tokens required"}}`),
	}}
	p := newFakeProvider(t, client)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeInvalidRequest, perr.Code)
	assert.Equal(t, "max_tokens required", perr.Message)
	assert.Len(t, client.requests, 1)
}

func TestCompleteUnreachableIsRetried(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	p := newFakeProvider(t, client)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.ErrCodeUnavailable, perr.Code)
	assert.Len(t, client.requests, 2)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := &fakeClient{responses: []*http.Response{jsonResponse(http.StatusOK, `{"data": []}`)}}
		p := newFakeProvider(t, client)

		result, err := p.HealthCheck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, llm.HealthStatusHealthy, result.Status)
		assert.Equal(t, "/v1/models", client.requests[0].URL.Path)
	})

	t.Run("unhealthy on auth failure", func(t *testing.T) {
		client := &fakeClient{responses: []*http.Response{jsonResponse(http.StatusUnauthorized, ``)}}
		p := newFakeProvider(t, client)

		result, err := p.HealthCheck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, llm.HealthStatusUnhealthy, result.Status)
	})

	t.Run("degraded on unexpected status", func(t *testing.T) {
		client := &fakeClient{responses: []*http.Response{jsonResponse(http.StatusBadGateway, ``)}}
		p := newFakeProvider(t, client)

		result, err := p.HealthCheck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, llm.HealthStatusDegraded, result.Status)
	})
}
