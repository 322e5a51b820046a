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
	"log"
	"os"
	"strconv"
	"strings"
)

// Settings holds the environment-driven configuration for the service.
// Loaded once at startup; malformed compound values fall back to defaults
// rather than failing the boot.
type Settings struct {
	ServerHost string
	ServerPort string

	// LLM provider selection
	LLMProvider     string
	OllamaHost      string
	OllamaModel     string
	OllamaTimeout   int
	OllamaMaxTokens int
	OpenAIAPIBase   string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	AWSRegion       string
	BedrockModel    string

	// Context budgets (tokens)
	ContextBudgetTotal     int
	ContextBudgetPolicy    int
	ContextBudgetDomain    int
	ContextBudgetSession   int
	ContextBudgetEphemeral int

	// Enterprise policy configuration
	ProhibitedClauses []string
	RequiredClauses   []string
	BudgetThresholds  map[string]float64

	// Compliance configuration
	VarianceThreshold   float64
	AutoRevisionEnabled bool
	AuditLogEnabled     bool

	// Optional infrastructure
	PolicyFile       string
	SessionRedisAddr string
	DatabaseURL      string
	AdminJWTSecret   string
}

// Default clause catalogs and budget thresholds, used when the corresponding
// environment variables are unset or unparseable.
var (
	defaultProhibitedClauses = []string{"liability_waiver", "indemnification", "unlimited_liability"}
	defaultRequiredClauses   = []string{"warranty", "data_protection", "termination_rights"}
	defaultBudgetThresholds  = map[string]float64{
		"software": 50000.0,
		"hardware": 100000.0,
		"services": 25000.0,
	}
)

// LoadSettings reads configuration from the environment.
func LoadSettings() *Settings {
	return &Settings{
		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8000"),

		LLMProvider:     getEnv("LLM_PROVIDER", "ollama"),
		OllamaHost:      getEnv("OLLAMA_HOST", "localhost:11434"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3.1:8b"),
		OllamaTimeout:   getEnvInt("OLLAMA_TIMEOUT", 30),
		OllamaMaxTokens: getEnvInt("OLLAMA_MAX_TOKENS", 4096),
		OpenAIAPIBase:   getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  os.Getenv("ANTHROPIC_MODEL"),
		AWSRegion:       os.Getenv("AWS_REGION"),
		BedrockModel:    os.Getenv("BEDROCK_MODEL"),

		ContextBudgetTotal:     getEnvInt("CONTEXT_BUDGET_TOTAL", 2000),
		ContextBudgetPolicy:    getEnvInt("CONTEXT_BUDGET_GPC", 500),
		ContextBudgetDomain:    getEnvInt("CONTEXT_BUDGET_DSC", 500),
		ContextBudgetSession:   getEnvInt("CONTEXT_BUDGET_TSC", 800),
		ContextBudgetEphemeral: getEnvInt("CONTEXT_BUDGET_ETC", 200),

		ProhibitedClauses: parseClauseList(os.Getenv("PROHIBITED_CLAUSES"), defaultProhibitedClauses),
		RequiredClauses:   parseClauseList(os.Getenv("REQUIRED_CLAUSES"), defaultRequiredClauses),
		BudgetThresholds:  parseBudgetThresholds(os.Getenv("BUDGET_THRESHOLDS")),

		VarianceThreshold:   getEnvFloat("VARIANCE_THRESHOLD", 0.15),
		AutoRevisionEnabled: getEnvBool("AUTO_REVISION_ENABLED", true),
		AuditLogEnabled:     getEnvBool("AUDIT_LOGGING_ENABLED", true),

		PolicyFile:       os.Getenv("POLICY_FILE"),
		SessionRedisAddr: os.Getenv("SESSION_REDIS_ADDR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AdminJWTSecret:   os.Getenv("ADMIN_JWT_SECRET"),
	}
}

// parseClauseList splits a comma-separated clause list, trimming whitespace.
func parseClauseList(raw string, defaults []string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaults...)
	}
	parts := strings.Split(raw, ",")
	clauses := make([]string, 0, len(parts))
	for _, p := range parts {
		if c := strings.TrimSpace(p); c != "" {
			clauses = append(clauses, c)
		}
	}
	if len(clauses) == 0 {
		return append([]string(nil), defaults...)
	}
	return clauses
}

// parseBudgetThresholds parses "category:amount,..." pairs. Stray braces and
// whitespace are tolerated; any parse failure returns the default thresholds.
func parseBudgetThresholds(raw string) map[string]float64 {
	if strings.TrimSpace(raw) == "" {
		return copyThresholds(defaultBudgetThresholds)
	}

	thresholds := make(map[string]float64)
	for _, item := range strings.Split(raw, ",") {
		if !strings.Contains(item, ":") {
			continue
		}
		parts := strings.SplitN(strings.TrimSpace(item), ":", 2)
		value := strings.TrimRight(strings.TrimSpace(parts[1]), "} ")
		amount, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Printf("Warning: failed to parse budget threshold %q: %v", item, err)
			return copyThresholds(defaultBudgetThresholds)
		}
		thresholds[strings.TrimSpace(parts[0])] = amount
	}
	if len(thresholds) == 0 {
		return copyThresholds(defaultBudgetThresholds)
	}
	return thresholds
}

func copyThresholds(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// getEnv returns the environment value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid integer for %s: %q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Warning: invalid float for %s: %q, using default %g", key, raw, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Warning: invalid boolean for %s: %q, using default %t", key, raw, defaultValue)
		return defaultValue
	}
	return value
}
