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
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AgentKind identifies one of the three procurement agents.
type AgentKind string

const (
	AgentNegotiation AgentKind = "negotiation"
	AgentCompliance  AgentKind = "compliance"
	AgentForecast    AgentKind = "forecast"
)

// Priority orders requests for downstream consumers. It is carried through
// but does not affect in-process scheduling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// NegotiationPayload is the request body for the negotiation agent.
// TargetDiscountPct accepts both fraction (0.15) and percent (15.0) form;
// values above 1 are divided by 100 exactly once during validation.
type NegotiationPayload struct {
	Vendor            string   `json:"vendor"`
	TargetDiscountPct float64  `json:"target_discount_pct"`
	Category          string   `json:"category"`
	CurrentPrice      *float64 `json:"current_price,omitempty"`
	ContractDuration  string   `json:"contract_duration,omitempty"`
	VolumeCommitment  *int     `json:"volume_commitment,omitempty"`
	AdditionalContext string   `json:"additional_context,omitempty"`
}

// CompliancePayload is the request body for the compliance agent.
type CompliancePayload struct {
	Clause          string `json:"clause"`
	ContractContext string `json:"contract_context,omitempty"`
	ContractType    string `json:"contract_type,omitempty"`
	RiskTolerance   string `json:"risk_tolerance,omitempty"`
	Jurisdiction    string `json:"jurisdiction,omitempty"`
}

// ForecastPayload is the request body for the forecast agent.
type ForecastPayload struct {
	Category              string   `json:"category"`
	Quarter               string   `json:"quarter"`
	PlannedSpend          float64  `json:"planned_spend"`
	CurrentBudget         *float64 `json:"current_budget,omitempty"`
	BusinessJustification string   `json:"business_justification,omitempty"`
	StrategicPriority     string   `json:"strategic_priority,omitempty"`
}

// AgentRequest is the envelope routed through the workflow. Exactly one
// payload field is set, matching Kind.
type AgentRequest struct {
	Kind        AgentKind           `json:"agent_type"`
	SessionID   string              `json:"session_id"`
	RequestID   string              `json:"request_id"`
	Priority    Priority            `json:"priority,omitempty"`
	UserContext string              `json:"user_context,omitempty"`
	Negotiation *NegotiationPayload `json:"negotiation,omitempty"`
	Compliance  *CompliancePayload  `json:"compliance,omitempty"`
	Forecast    *ForecastPayload    `json:"forecast,omitempty"`
	Ephemeral   EphemeralData       `json:"-"`
}

// Category returns the procurement category the request concerns, if any.
func (r *AgentRequest) Category() string {
	switch {
	case r.Negotiation != nil:
		return r.Negotiation.Category
	case r.Forecast != nil:
		return r.Forecast.Category
	default:
		return ""
	}
}

// AgentArtifact is an agent's structured output before critic review.
type AgentArtifact struct {
	Response        string
	Recommendations []string
	Confidence      float64
}

// AgentCapabilities advertises what an agent supports.
type AgentCapabilities struct {
	Kind                AgentKind `json:"agent_type"`
	SupportedOperations []string  `json:"supported_operations"`
	MaxResponseTokens   int       `json:"max_response_tokens"`
	SupportsAutoRevise  bool      `json:"supports_auto_revision"`
}

// Agent is the common contract of the three procurement agents. Agents are
// stateless singletons; all per-request state lives in the arguments.
type Agent interface {
	Kind() AgentKind
	Capabilities() AgentCapabilities
	Validate(req *AgentRequest) error
	Process(ctx context.Context, req *AgentRequest, lc *LayeredContext) (*AgentArtifact, error)
}

// ValidationError reports a malformed request payload. The HTTP layer maps
// it to 422.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewValidationError builds a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

var quarterRe = regexp.MustCompile(`^Q([1-4])\s+(\d{4})$`)

// validateQuarter checks the "Qn YYYY" format and that the year falls in
// [current year, current year + 5].
func validateQuarter(quarter string) error {
	m := quarterRe.FindStringSubmatch(strings.TrimSpace(quarter))
	if m == nil {
		return NewValidationError("quarter", fmt.Sprintf("invalid quarter format: %q, expected e.g. Q1 %d", quarter, time.Now().Year()))
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return NewValidationError("quarter", fmt.Sprintf("invalid quarter year: %q", quarter))
	}
	currentYear := time.Now().Year()
	if year < currentYear || year > currentYear+5 {
		return NewValidationError("quarter", fmt.Sprintf("quarter year %d out of range [%d, %d]", year, currentYear, currentYear+5))
	}
	return nil
}

// Shared response section parsing for the structured sections the agents
// request from the model (HEADER: content blocks).

// extractResponseSections splits a model response on uppercase
// "SECTION_NAME:" headers.
func extractResponseSections(response string) map[string]string {
	sections := map[string]string{}
	var current string
	var content []string

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(content, "\n"))
		}
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, ":"); idx > 0 && isSectionHeader(line[:idx]) {
			flush()
			current = strings.TrimSpace(line[:idx])
			content = []string{strings.TrimSpace(line[idx+1:])}
			continue
		}
		if current != "" {
			content = append(content, line)
		}
	}
	flush()
	return sections
}

func isSectionHeader(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return strings.ToUpper(s) == s
}

// parseListSection splits a section body into items, stripping bullets and
// numbering.
func parseListSection(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "•-*0123456789. ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// parseConfidence reads a confidence value from a section, clamped to [0, 1]
// with a fallback for unparseable content.
func parseConfidence(text string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return fallback
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
