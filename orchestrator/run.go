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

package orchestrator

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/rs/cors"

	"procuresense/platform/orchestrator/llm"
	_ "procuresense/platform/orchestrator/llm/anthropic"
	_ "procuresense/platform/orchestrator/llm/bedrock"
	_ "procuresense/platform/orchestrator/llm/ollama"
	_ "procuresense/platform/orchestrator/llm/openai"
	"procuresense/platform/shared/logger"
)

// Run boots the orchestration service and blocks serving HTTP.
func Run() {
	settings := LoadSettings()
	logg := logger.New("orchestrator")

	provider, err := buildProvider(settings)
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}
	log.Printf("LLM provider: %s (%s)", provider.Name(), provider.Type())

	store, err := NewPolicyStore(settings)
	if err != nil {
		log.Fatalf("Failed to load policy configuration: %v", err)
	}

	assembler := NewContextAssembler(store, BudgetsFromSettings(settings), logg)
	validator := NewPolicyValidator(store, provider, logg)
	critic := NewGlobalPolicyCritic(validator, settings.AutoRevisionEnabled, logg)

	agents := []Agent{
		NewNegotiationAgent(provider, logg),
		NewComplianceAgent(store, provider, logg),
		NewForecastAgent(store, provider, logg),
	}

	sessions := buildSessionStore(settings)
	integration := NewIntegrationManager()

	var audit *AuditLog
	if settings.AuditLogEnabled {
		audit = NewAuditLog(settings.DatabaseURL)
		defer func() { _ = audit.Close() }()
	}

	engine := NewWorkflowEngine(agents, assembler, critic, sessions, integration, logg)
	guard := newAdminGuard(settings.AdminJWTSecret)
	server := NewServer(engine, integration, store, audit, guard, logg)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	addr := settings.ServerHost + ":" + settings.ServerPort
	log.Printf("ProcureSense Orchestrator listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, c.Handler(server.Router())))
}

// buildProvider constructs the configured LLM provider. Providers that need
// credentials fail fast when they are missing; the mock provider never needs
// any.
func buildProvider(settings *Settings) (llm.Provider, error) {
	var config llm.ProviderConfig

	switch strings.ToLower(settings.LLMProvider) {
	case "ollama":
		endpoint := settings.OllamaHost
		if !strings.HasPrefix(endpoint, "http") {
			endpoint = "http://" + endpoint
		}
		config = llm.ProviderConfig{
			Name:           "ollama-default",
			Type:           llm.ProviderTypeOllama,
			Endpoint:       endpoint,
			Model:          settings.OllamaModel,
			MaxTokens:      settings.OllamaMaxTokens,
			TimeoutSeconds: settings.OllamaTimeout,
		}
	case "openai":
		if settings.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		config = llm.ProviderConfig{
			Name:     "openai-default",
			Type:     llm.ProviderTypeOpenAI,
			APIKey:   settings.OpenAIAPIKey,
			Endpoint: settings.OpenAIAPIBase,
			Model:    settings.OpenAIModel,
		}
	case "anthropic":
		if settings.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		config = llm.ProviderConfig{
			Name:   "anthropic-default",
			Type:   llm.ProviderTypeAnthropic,
			APIKey: settings.AnthropicAPIKey,
			Model:  settings.AnthropicModel,
		}
	case "bedrock":
		if settings.AWSRegion == "" {
			return nil, fmt.Errorf("AWS_REGION is required for the bedrock provider")
		}
		config = llm.ProviderConfig{
			Name:   "bedrock-default",
			Type:   llm.ProviderTypeBedrock,
			Region: settings.AWSRegion,
			Model:  settings.BedrockModel,
		}
	case "mock":
		config = llm.ProviderConfig{
			Name: "mock-default",
			Type: llm.ProviderTypeMock,
		}
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", settings.LLMProvider)
	}

	return llm.CreateProvider(config)
}

// buildSessionStore prefers Redis when configured, degrading to in-memory
// storage when the connection fails.
func buildSessionStore(settings *Settings) SessionStore {
	if settings.SessionRedisAddr == "" {
		return NewMemorySessionStore()
	}
	store, err := NewRedisSessionStore(settings.SessionRedisAddr)
	if err != nil {
		log.Printf("Redis session store unavailable, using in-memory store: %v", err)
		return NewMemorySessionStore()
	}
	log.Printf("Session store: redis at %s", settings.SessionRedisAddr)
	return store
}
