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

// Package main is the entry point for the ProcureSense Orchestrator service.
//
// The Orchestrator is a policy-governed multi-agent service that:
// - Routes procurement requests to negotiation, compliance, and forecast agents
// - Assembles layered context (policy, domain, session, ephemeral) per request
// - Reviews every agent output through the Global Policy Critic
// - Auto-revises fixable policy violations before responses leave the service
// - Aggregates workflow metrics and compliance reporting
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	SERVER_HOST / SERVER_PORT - HTTP bind address (default: localhost:8000)
//	LLM_PROVIDER - ollama | openai | anthropic | bedrock | mock
//	DATABASE_URL - PostgreSQL connection string for audit logging (optional)
//	SESSION_REDIS_ADDR - Redis address for shared session storage (optional)
//	CONTEXT_BUDGET_TOTAL - total context token budget (default: 2000)
package main

import (
	"procuresense/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
