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

/*
Package orchestrator provides the ProcureSense Orchestrator service - the
policy-governed multi-agent engine for enterprise procurement.

# Overview

The Orchestrator receives procurement requests over HTTP and handles:

  - Routing to specialized agents (negotiation, compliance, forecast)
  - Layered context assembly with per-layer token budgets
  - Global Policy Critic review of every agent output
  - Automatic revision of fixable policy violations
  - Workflow metrics aggregation and compliance reporting
  - Audit logging to PostgreSQL

# Architecture

Every request flows through the same pipeline:

	Request → Agent → Global Policy Critic → Revision → Metrics → Audit

No agent output leaves the service without passing through the critic.

# Layered Context

The ContextAssembler builds prompts from four layers with fixed priority:

  - Policy: non-negotiable procurement rules, never pruned
  - Domain: vendor terms, warranties, category strategy
  - Session: prior turns of the current conversation
  - Ephemeral: per-request data such as drafts under review

When the assembled context exceeds the token budget, layers are pruned in
reverse priority order: ephemeral first, then session, then domain. The
policy layer always survives.

# Global Policy Critic

The GlobalPolicyCritic validates agent outputs against procurement policy:

  - Prohibited clause detection (liability waivers, one-sided terms)
  - Warranty requirement validation for high-discount contracts
  - Discount authorization checks against the approved ceiling
  - Budget compliance verification
  - LLM-based policy analysis for nuanced violations

Fixable violations are auto-revised in place. Critical violations that
cannot be fixed flag the response for manual review. The critic sees only
the policy and domain layers, so session noise cannot dilute enforcement.

# Agents

Three agents implement the Agent interface:

  - NegotiationAgent drafts vendor proposals with discount normalization
    and mandatory warranty language at high discount levels
  - ComplianceAgent reviews contract text for risky terms and produces a
    tiered risk assessment
  - ForecastAgent analyzes budget variance and OKR alignment for planned
    procurement spend

Example:

	engine := NewWorkflowEngine(agents, assembler, critic, sessions, integration, log)
	result, err := engine.Execute(ctx, req)

# LLM Providers

Agents call models through the llm.Provider interface. Supported providers
are Ollama (default for local deployments), OpenAI, Anthropic, AWS Bedrock,
and a deterministic mock for testing. Providers register factories at init
time and are selected via the LLM_PROVIDER environment variable.

# HTTP API

The Server exposes:

	POST /agent/negotiation
	POST /agent/compliance
	POST /agent/forecast
	GET  /policy/summary
	GET  /integration/metrics
	GET  /integration/recent
	GET  /integration/compliance-report
	POST /integration/batch
	POST /integration/reset-metrics
	GET  /health
	GET  /status/agents
	GET  /metrics

Reset-metrics is protected by an optional JWT admin guard. Prometheus
metrics are served on /metrics via promhttp.
*/
package orchestrator
