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
	"strings"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/shared/logger"
)

// RiskLevel grades the overall compliance risk of a clause.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// flaggedTermPatterns is the review lexicon applied to every clause.
var flaggedTermPatterns = []struct {
	term    string
	pattern *regexp.Regexp
}{
	{"exclusive", regexp.MustCompile(`(?i)\bexclusive\b`)},
	{"perpetual", regexp.MustCompile(`(?i)\bperpetual\b`)},
	{"irrevocable", regexp.MustCompile(`(?i)\birrevocable\b`)},
	{"unlimited", regexp.MustCompile(`(?i)\bunlimited\b`)},
	{"sole remedy", regexp.MustCompile(`(?i)\bsole\s+remedy\b`)},
	{"liquidated damages", regexp.MustCompile(`(?i)\bliquidated\s+damages\b`)},
}

// ComplianceAnalysis is the structured artifact behind the formatted
// compliance response.
type ComplianceAnalysis struct {
	OriginalClause      string
	RiskAssessment      string
	RiskLevel           RiskLevel
	Violations          []PolicyViolation
	CompliantRewrite    string
	FlaggedTerms        []string
	Recommendations     []string
	Confidence          float64
	RequiresLegalReview bool
}

// ComplianceAgent analyzes contract clauses for policy violations, grades
// risk, and proposes compliant rewrites.
type ComplianceAgent struct {
	store    *PolicyStore
	provider llm.Provider
	log      *logger.Logger
}

// NewComplianceAgent creates the compliance agent.
func NewComplianceAgent(store *PolicyStore, provider llm.Provider, log *logger.Logger) *ComplianceAgent {
	return &ComplianceAgent{store: store, provider: provider, log: log}
}

// Kind returns the agent kind.
func (a *ComplianceAgent) Kind() AgentKind {
	return AgentCompliance
}

// Capabilities describes supported operations.
func (a *ComplianceAgent) Capabilities() AgentCapabilities {
	return AgentCapabilities{
		Kind: AgentCompliance,
		SupportedOperations: []string{
			"analyze_clause_risk",
			"detect_violations",
			"rewrite_clauses",
			"assess_compliance",
			"flag_risky_terms",
			"provide_alternatives",
		},
		MaxResponseTokens:  2500,
		SupportsAutoRevise: true,
	}
}

// Validate checks the compliance payload.
func (a *ComplianceAgent) Validate(req *AgentRequest) error {
	p := req.Compliance
	if p == nil {
		return NewValidationError("payload", "compliance payload is required")
	}
	if strings.TrimSpace(p.Clause) == "" {
		return NewValidationError("clause", "clause must be a non-empty string")
	}
	if p.RiskTolerance != "" {
		switch strings.ToLower(p.RiskTolerance) {
		case "low", "medium", "high":
		default:
			return NewValidationError("risk_tolerance", fmt.Sprintf("invalid risk tolerance: %q", p.RiskTolerance))
		}
	}
	return nil
}

// Process analyzes the clause. Model failure falls back to a deterministic
// analysis derived from the detected violations.
func (a *ComplianceAgent) Process(ctx context.Context, req *AgentRequest, lc *LayeredContext) (*AgentArtifact, error) {
	p := req.Compliance

	violations := a.detectViolations(p.Clause)
	riskLevel := assessRiskLevel(violations)
	flagged := identifyFlaggedTerms(p.Clause)

	assessment, rewrite, recommendations := a.modelAnalysis(ctx, p, lc, violations)

	analysis := ComplianceAnalysis{
		OriginalClause:      p.Clause,
		RiskAssessment:      assessment,
		RiskLevel:           riskLevel,
		Violations:          violations,
		CompliantRewrite:    rewrite,
		FlaggedTerms:        flagged,
		Recommendations:     recommendations,
		Confidence:          complianceConfidence(violations, riskLevel),
		RequiresLegalReview: requiresLegalReview(violations, riskLevel),
	}

	if a.log != nil {
		a.log.Info(req.SessionID, req.RequestID, "generated compliance analysis", map[string]interface{}{
			"violations":    len(violations),
			"risk_level":    string(riskLevel),
			"legal_review":  analysis.RequiresLegalReview,
			"flagged_terms": len(flagged),
		})
	}

	return &AgentArtifact{
		Response:        a.formatResponse(analysis),
		Recommendations: recommendations,
		Confidence:      analysis.Confidence,
	}, nil
}

// detectViolations scans a clause against the policy catalogs. Required
// clause checks apply only to full-section texts.
func (a *ComplianceAgent) detectViolations(clause string) []PolicyViolation {
	violations := append([]PolicyViolation{}, a.store.CheckClauseCompliance(clause)...)

	for i := range violations {
		violations[i].SuggestedFix = suggestedProhibitedFix(violations[i].Description)
	}

	if len(clause) > requiredClauseMinLength {
		for _, required := range a.store.SuggestRequiredClauses([]string{clause}) {
			violations = append(violations, PolicyViolation{
				Kind:         ViolationMissingRequiredClause,
				Severity:     SeverityMedium,
				Description:  fmt.Sprintf("Missing required clause: %s", required),
				SuggestedFix: suggestedRequiredAddition(required),
				AutoFixable:  true,
				PolicyRef:    "CR002",
			})
		}
	}

	return violations
}

func suggestedProhibitedFix(description string) string {
	switch {
	case strings.Contains(description, "liability_waiver"):
		return "Replace with limited liability provision"
	case strings.Contains(description, "indemnification"):
		return "Replace with mutual indemnification clause"
	case strings.Contains(description, "unlimited_liability"):
		return "Add liability cap equal to contract value"
	default:
		return "Remove or modify prohibited clause"
	}
}

func suggestedRequiredAddition(required string) string {
	switch required {
	case "warranty":
		return "Add warranty provision with appropriate coverage period"
	case "data_protection":
		return "Add data protection and privacy compliance clause"
	case "termination_rights":
		return "Add termination clause with appropriate notice period"
	default:
		return fmt.Sprintf("Add %s clause", required)
	}
}

// assessRiskLevel grades the clause from the violation severities.
func assessRiskLevel(violations []PolicyViolation) RiskLevel {
	if len(violations) == 0 {
		return RiskLow
	}

	high := 0
	medium := 0
	for _, v := range violations {
		switch v.Severity {
		case SeverityCritical:
			return RiskCritical
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}

	switch {
	case high >= 2:
		return RiskCritical
	case high >= 1:
		return RiskHigh
	case medium >= 3:
		return RiskHigh
	case medium >= 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

func identifyFlaggedTerms(clause string) []string {
	flagged := []string{}
	for _, fp := range flaggedTermPatterns {
		if fp.pattern.MatchString(clause) {
			flagged = append(flagged, fp.term)
		}
	}
	return flagged
}

func requiresLegalReview(violations []PolicyViolation, risk RiskLevel) bool {
	if risk == RiskHigh || risk == RiskCritical {
		return true
	}
	for _, v := range violations {
		if !v.AutoFixable {
			return true
		}
	}
	return false
}

// complianceConfidence starts at 0.9 and is reduced by the risk level and
// violation count, with a 0.5 floor.
func complianceConfidence(violations []PolicyViolation, risk RiskLevel) float64 {
	confidence := 0.9

	switch risk {
	case RiskMedium:
		confidence -= 0.1
	case RiskHigh:
		confidence -= 0.2
	case RiskCritical:
		confidence -= 0.3
	}

	penalty := 0.1 * float64(len(violations))
	if penalty > 0.3 {
		penalty = 0.3
	}
	confidence -= penalty

	if confidence < 0.5 {
		return 0.5
	}
	return confidence
}

// modelAnalysis asks the model for a risk assessment, rewrite, and
// recommendations, falling back to a deterministic analysis on failure.
func (a *ComplianceAgent) modelAnalysis(ctx context.Context, p *CompliancePayload, lc *LayeredContext, violations []PolicyViolation) (assessment, rewrite string, recommendations []string) {
	prompt := a.buildPrompt(p, lc, violations)

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   a.Capabilities().MaxResponseTokens,
		Temperature: 0.3,
	})
	if err != nil {
		if a.log != nil {
			a.log.Warn("", "", "compliance model call failed, using fallback analysis", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return a.fallbackAnalysis(p, violations)
	}

	sections := extractResponseSections(resp.Content)
	assessment = sections["RISK_ASSESSMENT"]
	if assessment == "" {
		assessment = "Standard compliance analysis performed"
	}

	rewrite = sections["COMPLIANT_REWRITE"]
	if strings.Contains(strings.ToLower(rewrite), "no rewrite needed") {
		rewrite = ""
	}

	recommendations = parseListSection(sections["RECOMMENDATIONS"])
	return assessment, rewrite, recommendations
}

func (a *ComplianceAgent) buildPrompt(p *CompliancePayload, lc *LayeredContext, violations []PolicyViolation) string {
	var b strings.Builder
	b.WriteString("You are a legal compliance expert analyzing contract clauses. Provide a comprehensive compliance analysis.\n\n")
	fmt.Fprintf(&b, "CONTRACT CLAUSE TO ANALYZE:\n%q\n", p.Clause)
	if p.ContractContext != "" {
		b.WriteString("\nCONTRACT CONTEXT:\n" + p.ContractContext + "\n")
	}
	b.WriteString("\nENTERPRISE POLICIES:\n" + lc.Policy)

	b.WriteString("\nDETECTED VIOLATIONS:\n")
	if len(violations) == 0 {
		b.WriteString("No violations detected\n")
	}
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s: %s\n", v.Kind, v.Description)
	}

	b.WriteString(`
RESPONSE FORMAT:
RISK_ASSESSMENT: [Detailed risk analysis]
COMPLIANT_REWRITE: [Rewritten clause if needed, or "No rewrite needed"]
RECOMMENDATIONS: [Specific recommendations]

Generate the compliance analysis:`)
	return b.String()
}

func (a *ComplianceAgent) fallbackAnalysis(p *CompliancePayload, violations []PolicyViolation) (string, string, []string) {
	if len(violations) == 0 {
		return "No significant compliance issues detected", "",
			[]string{"Clause appears compliant with current policies"}
	}

	assessment := fmt.Sprintf("Detected %d compliance violations requiring attention", len(violations))
	rewrite := basicCompliantRewrite(p.Clause)
	recommendations := []string{
		"Review and address detected violations",
		"Consult legal team for complex terms",
		"Ensure compliance with enterprise policies",
	}
	return assessment, rewrite, recommendations
}

// basicCompliantRewrite applies the canonical prohibited-clause
// substitutions directly to the clause text.
func basicCompliantRewrite(clause string) string {
	rewritten := clause
	for from, to := range prohibitedReplacements {
		rewritten = replaceInsensitive(rewritten, from, to)
	}
	if rewritten == clause {
		return "[COMPLIANCE REVIEW REQUIRED] " + clause
	}
	return rewritten
}

func (a *ComplianceAgent) formatResponse(analysis ComplianceAnalysis) string {
	var b strings.Builder
	b.WriteString("COMPLIANCE ANALYSIS REPORT\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")

	fmt.Fprintf(&b, "\nRISK ASSESSMENT (%s):\n%s\n", strings.ToUpper(string(analysis.RiskLevel)), analysis.RiskAssessment)

	if len(analysis.Violations) > 0 {
		fmt.Fprintf(&b, "\nCOMPLIANCE VIOLATIONS (%d found):\n", len(analysis.Violations))
		for i, v := range analysis.Violations {
			fmt.Fprintf(&b, "%d. %s (Risk: %s)\n", i+1, v.Description, v.Severity)
			if v.SuggestedFix != "" {
				fmt.Fprintf(&b, "   Suggested fix: %s\n", v.SuggestedFix)
			}
		}
	} else {
		b.WriteString("\nNO COMPLIANCE VIOLATIONS DETECTED\n")
	}

	if analysis.CompliantRewrite != "" {
		fmt.Fprintf(&b, "\nCOMPLIANT REWRITE:\n%q\n", analysis.CompliantRewrite)
	}

	if len(analysis.FlaggedTerms) > 0 {
		b.WriteString("\nFLAGGED TERMS:\n")
		for _, term := range analysis.FlaggedTerms {
			b.WriteString("- " + term + "\n")
		}
	}

	writeNumberedSection(&b, "RECOMMENDATIONS", analysis.Recommendations)

	if analysis.RequiresLegalReview {
		b.WriteString("\nLEGAL REVIEW REQUIRED\n")
		b.WriteString("This clause requires review by legal counsel due to complexity or high risk.\n")
	}

	b.WriteString("\nANALYSIS SUMMARY:\n")
	fmt.Fprintf(&b, "Risk Level: %s\n", strings.ToUpper(string(analysis.RiskLevel)))
	fmt.Fprintf(&b, "Violations: %d\n", len(analysis.Violations))
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", analysis.Confidence*100)
	legalReview := "Not Required"
	if analysis.RequiresLegalReview {
		legalReview = "Required"
	}
	fmt.Fprintf(&b, "Legal Review: %s", legalReview)

	return b.String()
}
