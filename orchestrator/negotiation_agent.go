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
	"strings"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/shared/logger"
)

// Discount thresholds that trigger automatic warranty injection, as
// fractions.
const (
	aggressiveDiscountThreshold = 0.15
	highRiskDiscountThreshold   = 0.25
)

// NegotiationProposal is the structured artifact behind the formatted
// negotiation response.
type NegotiationProposal struct {
	PricingProposal      string
	ContractTerms        []string
	WarrantyRequirements []string
	RiskMitigation       []string
	NegotiationStrategy  string
	Confidence           float64
}

// NegotiationAgent generates vendor negotiation proposals with automatic
// warranty escalation for aggressive discount targets.
type NegotiationAgent struct {
	provider llm.Provider
	log      *logger.Logger
}

// NewNegotiationAgent creates the negotiation agent.
func NewNegotiationAgent(provider llm.Provider, log *logger.Logger) *NegotiationAgent {
	return &NegotiationAgent{provider: provider, log: log}
}

// Kind returns the agent kind.
func (a *NegotiationAgent) Kind() AgentKind {
	return AgentNegotiation
}

// Capabilities describes supported operations.
func (a *NegotiationAgent) Capabilities() AgentCapabilities {
	return AgentCapabilities{
		Kind: AgentNegotiation,
		SupportedOperations: []string{
			"generate_pricing_proposal",
			"negotiate_terms",
			"add_warranties",
			"assess_negotiation_risk",
			"create_contract_terms",
		},
		MaxResponseTokens:  2000,
		SupportsAutoRevise: true,
	}
}

// Validate checks the negotiation payload and normalizes percent-form
// discounts. Normalization happens exactly once; a value still above 1
// afterwards is rejected.
func (a *NegotiationAgent) Validate(req *AgentRequest) error {
	p := req.Negotiation
	if p == nil {
		return NewValidationError("payload", "negotiation payload is required")
	}
	if strings.TrimSpace(p.Vendor) == "" {
		return NewValidationError("vendor", "vendor must be a non-empty string")
	}
	if strings.TrimSpace(p.Category) == "" {
		return NewValidationError("category", "category must be a non-empty string")
	}
	if p.TargetDiscountPct < 0 {
		return NewValidationError("target_discount_pct", fmt.Sprintf("invalid discount: %g, must be non-negative", p.TargetDiscountPct))
	}
	if p.TargetDiscountPct > 1 {
		p.TargetDiscountPct = p.TargetDiscountPct / 100.0
	}
	if p.TargetDiscountPct > 1 {
		return NewValidationError("target_discount_pct", fmt.Sprintf("discount too high: %g, maximum is 100%% (1.0)", p.TargetDiscountPct))
	}
	if p.CurrentPrice != nil && *p.CurrentPrice < 0 {
		return NewValidationError("current_price", "current price must be non-negative")
	}
	return nil
}

// Process generates the negotiation proposal. Model failure falls back to a
// deterministic proposal template.
func (a *NegotiationAgent) Process(ctx context.Context, req *AgentRequest, lc *LayeredContext) (*AgentArtifact, error) {
	p := req.Negotiation

	proposal := a.generateProposal(ctx, p, lc)
	proposal = a.addAutomaticWarranties(proposal, p)

	response := a.formatResponse(proposal, p)

	if a.log != nil {
		a.log.Info(req.SessionID, req.RequestID, "generated negotiation proposal", map[string]interface{}{
			"vendor":          p.Vendor,
			"target_discount": p.TargetDiscountPct,
			"category":        p.Category,
			"warranties":      len(proposal.WarrantyRequirements),
		})
	}

	return &AgentArtifact{
		Response:        response,
		Recommendations: proposal.RiskMitigation,
		Confidence:      proposal.Confidence,
	}, nil
}

func (a *NegotiationAgent) generateProposal(ctx context.Context, p *NegotiationPayload, lc *LayeredContext) NegotiationProposal {
	prompt := a.buildPrompt(p, lc)

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   a.Capabilities().MaxResponseTokens,
		Temperature: 0.7,
	})
	if err != nil {
		if a.log != nil {
			a.log.Warn("", "", "negotiation model call failed, using fallback proposal", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return a.fallbackProposal(p)
	}

	return a.parseModelResponse(resp.Content, p)
}

func (a *NegotiationAgent) buildPrompt(p *NegotiationPayload, lc *LayeredContext) string {
	var b strings.Builder
	b.WriteString("You are a procurement negotiation expert. Generate a comprehensive negotiation proposal.\n\n")
	b.WriteString("NEGOTIATION REQUEST:\n")
	fmt.Fprintf(&b, "- Vendor: %s\n", p.Vendor)
	fmt.Fprintf(&b, "- Target Discount: %.1f%%\n", p.TargetDiscountPct*100)
	fmt.Fprintf(&b, "- Category: %s\n", p.Category)
	if p.CurrentPrice != nil {
		fmt.Fprintf(&b, "- Current Price: $%.2f\n", *p.CurrentPrice)
	}
	if p.ContractDuration != "" {
		fmt.Fprintf(&b, "- Contract Duration: %s\n", p.ContractDuration)
	}
	if p.VolumeCommitment != nil {
		fmt.Fprintf(&b, "- Volume Commitment: %d\n", *p.VolumeCommitment)
	}
	if p.AdditionalContext != "" {
		fmt.Fprintf(&b, "- Additional Context: %s\n", p.AdditionalContext)
	}

	b.WriteString("\nENTERPRISE POLICIES:\n" + lc.Policy)
	b.WriteString("\nCATEGORY STRATEGY:\n" + lc.DomainText())
	if session := lc.SessionText(); strings.TrimSpace(session) != "" {
		b.WriteString("\nSESSION CONTEXT:\n" + session)
	}

	b.WriteString(`
RESPONSE FORMAT:
PRICING_PROPOSAL: [Detailed pricing proposal]
CONTRACT_TERMS: [List of proposed contract terms]
NEGOTIATION_STRATEGY: [Strategic approach and tactics]
RISK_MITIGATION: [Risk mitigation measures]
CONFIDENCE: [Confidence score 0.0-1.0]

Generate the negotiation proposal:`)
	return b.String()
}

func (a *NegotiationAgent) parseModelResponse(content string, p *NegotiationPayload) NegotiationProposal {
	sections := extractResponseSections(content)

	proposal := NegotiationProposal{
		PricingProposal:     sections["PRICING_PROPOSAL"],
		ContractTerms:       parseListSection(sections["CONTRACT_TERMS"]),
		NegotiationStrategy: sections["NEGOTIATION_STRATEGY"],
		RiskMitigation:      parseListSection(sections["RISK_MITIGATION"]),
		Confidence:          parseConfidence(sections["CONFIDENCE"], 0.7),
	}
	if proposal.PricingProposal == "" {
		proposal.PricingProposal = fmt.Sprintf("Negotiate %.1f%% discount with %s", p.TargetDiscountPct*100, p.Vendor)
	}
	if proposal.NegotiationStrategy == "" {
		proposal.NegotiationStrategy = "Standard negotiation approach with competitive benchmarking"
	}
	return proposal
}

func (a *NegotiationAgent) fallbackProposal(p *NegotiationPayload) NegotiationProposal {
	return NegotiationProposal{
		PricingProposal: fmt.Sprintf("Negotiate %.1f%% discount with %s for %s category procurement",
			p.TargetDiscountPct*100, p.Vendor, p.Category),
		ContractTerms: []string{
			"Standard payment terms (Net 30)",
			"Delivery within agreed timeframe",
			"Quality standards compliance",
			"Termination clause with 30-day notice",
		},
		RiskMitigation: []string{
			"Vendor financial stability verification",
			"Reference checks with existing customers",
			"Pilot program before full commitment",
		},
		NegotiationStrategy: "Competitive benchmarking with market rate analysis",
		Confidence:          0.6,
	}
}

// addAutomaticWarranties injects warranty requirements when the discount
// target is aggressive. Standard warranties apply from 15%, the aggressive
// set additionally from 25%, plus category-specific warranties.
func (a *NegotiationAgent) addAutomaticWarranties(proposal NegotiationProposal, p *NegotiationPayload) NegotiationProposal {
	discount := p.TargetDiscountPct
	if discount < aggressiveDiscountThreshold {
		return proposal
	}

	warranties := []string{
		"Extended warranty period (minimum 24 months)",
		"Performance guarantee with SLA commitments",
		"Quality assurance and defect remediation",
	}
	if discount >= highRiskDiscountThreshold {
		warranties = append(warranties,
			"Financial stability guarantee or insurance",
			"Delivery guarantee with penalty clauses",
			"Intellectual property indemnification",
		)
	}
	warranties = append(warranties, categoryWarranties(p.Category)...)

	proposal.WarrantyRequirements = append(proposal.WarrantyRequirements, warranties...)

	warrantyTerm := fmt.Sprintf("Enhanced warranty requirements due to %.1f%% discount target", discount*100)
	if !containsString(proposal.ContractTerms, warrantyTerm) {
		proposal.ContractTerms = append(proposal.ContractTerms, warrantyTerm)
	}

	riskItem := fmt.Sprintf("Mitigate %.1f%% discount risk through comprehensive warranties", discount*100)
	if !containsString(proposal.RiskMitigation, riskItem) {
		proposal.RiskMitigation = append(proposal.RiskMitigation, riskItem)
	}

	return proposal
}

func categoryWarranties(category string) []string {
	lower := strings.ToLower(category)
	switch {
	case strings.Contains(lower, "software"):
		return []string{
			"Software maintenance and updates guarantee",
			"Data migration and integration support",
			"User training and documentation",
		}
	case strings.Contains(lower, "hardware"):
		return []string{
			"Hardware replacement guarantee",
			"On-site technical support",
			"Preventive maintenance program",
		}
	case strings.Contains(lower, "service"):
		return []string{
			"Service level agreement (SLA) guarantees",
			"Resource availability commitments",
			"Escalation and resolution procedures",
		}
	default:
		return nil
	}
}

func (a *NegotiationAgent) formatResponse(proposal NegotiationProposal, p *NegotiationPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NEGOTIATION PROPOSAL FOR %s\n", strings.ToUpper(p.Vendor))
	b.WriteString(strings.Repeat("=", 50) + "\n")

	b.WriteString("\nPRICING PROPOSAL:\n" + proposal.PricingProposal + "\n")

	writeNumberedSection(&b, "PROPOSED CONTRACT TERMS", proposal.ContractTerms)
	writeNumberedSection(&b, "WARRANTY REQUIREMENTS", proposal.WarrantyRequirements)

	b.WriteString("\nNEGOTIATION STRATEGY:\n" + proposal.NegotiationStrategy + "\n")

	writeNumberedSection(&b, "RISK MITIGATION", proposal.RiskMitigation)

	fmt.Fprintf(&b, "\nCONFIDENCE SCORE: %.1f%%\n", proposal.Confidence*100)
	fmt.Fprintf(&b, "\nTarget Discount: %.1f%% | Category: %s", p.TargetDiscountPct*100, p.Category)
	return b.String()
}

func writeNumberedSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
