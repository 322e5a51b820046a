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

package llm

import (
	"context"
)

// Provider is the unified interface for all LLM providers.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider instance.
	// Used for routing, logging, and metrics.
	Name() string

	// Type returns the provider type (e.g., "ollama", "anthropic").
	Type() ProviderType

	// Complete generates a completion for the given request.
	// The context should be used for cancellation and timeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck verifies the provider is operational.
	// Implementations should check API connectivity and authentication and
	// complete within a reasonable timeout.
	HealthCheck(ctx context.Context) (*HealthCheckResult, error)
}

// ProviderConfig contains the configuration for creating a provider.
// Values are sourced from the environment at startup.
type ProviderConfig struct {
	// Name is the unique identifier for this provider instance.
	Name string `json:"name"`

	// Type identifies the provider implementation to use.
	Type ProviderType `json:"type"`

	// APIKey is the authentication key for the provider API.
	// For AWS Bedrock this may be empty (IAM credentials are used).
	APIKey string `json:"api_key,omitempty"`

	// Endpoint is the API endpoint URL. Empty means provider defaults.
	Endpoint string `json:"endpoint,omitempty"`

	// Model is the default model to use.
	Model string `json:"model,omitempty"`

	// Region is the cloud region (for AWS Bedrock).
	Region string `json:"region,omitempty"`

	// MaxTokens caps completion length when the request does not set one.
	MaxTokens int `json:"max_tokens,omitempty"`

	// TimeoutSeconds is the request timeout (0 = default).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}
