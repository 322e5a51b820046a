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
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/shared/logger"
)

// Thresholds for discount policy checks, in percent.
const (
	warrantyDiscountThreshold = 15.0
	maxAuthorizedDiscount     = 25.0
)

// prohibitedPattern couples a high-risk clause regex with the canonical
// rewrite suggested when it fires.
type prohibitedPattern struct {
	re      *regexp.Regexp
	rewrite string
}

// High-risk clause patterns. These extend the canonical catalog with
// phrasings the substring variations miss.
var prohibitedPatterns = []prohibitedPattern{
	{regexp.MustCompile(`(?i)unlimited\s+(?:liability|damages)`), "liability limited to contract value"},
	{regexp.MustCompile(`(?i)no\s+liability\s+cap`), "liability limited to contract value"},
	{regexp.MustCompile(`(?i)indemnif(?:y|ies|ication)`), "mutual indemnification"},
	{regexp.MustCompile(`(?i)hold\s+harmless`), "mutual indemnification"},
	{regexp.MustCompile(`(?i)liability\s+waiver|waiver\s+of\s+liability|waives?\s+(?:all\s+)?liability`), "limited liability provision"},
	{regexp.MustCompile(`(?i)waive[sd]?\s+\w*\s*rights`), "rights preserved per standard terms"},
	{regexp.MustCompile(`(?i)no\s+warrant(?:y|ies)`), "standard warranty coverage"},
	{regexp.MustCompile(`(?i)\bas[\s-]is\b`), "standard warranty coverage"},
	{regexp.MustCompile(`(?i)exclusive\s+remedy`), "standard remedies per contract"},
	{regexp.MustCompile(`(?i)consequential\s+damages`), "direct damages per liability cap"},
}

var (
	warrantyMentionRe = regexp.MustCompile(`(?i)warrant(?:y|ies)|guarantee|protection`)
	// discountMentionRe couples a percentage to the word "discount" on the
	// same line, in either order. Confidence scores, variance figures, and
	// other bare percentages never match.
	discountMentionRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)%[^\n%]*?discount|discount[^\n%]*?(\d+(?:\.\d+)?)%`)
	currencyRe        = regexp.MustCompile(`\$?([\d,]+(?:\.\d{2})?)`)
)

// ValidationRequest carries the request fields the validator checks an
// output against.
type ValidationRequest struct {
	Category string
	// TargetDiscount is a normalized fraction in [0, 1] when known.
	TargetDiscount *float64
	// CriticContext is the policy and domain context visible to the critic.
	// When set it replaces the raw policy snapshot in the model prompt.
	CriticContext string
}

// PolicyValidator runs the deterministic policy checks on agent output, with
// an optional model-assisted pass for violations the patterns miss.
// It is stateless across calls and safe for concurrent use.
type PolicyValidator struct {
	store    *PolicyStore
	provider llm.Provider
	log      *logger.Logger
}

// NewPolicyValidator builds a validator. The provider is optional; when nil
// the model-assisted pass is skipped.
func NewPolicyValidator(store *PolicyStore, provider llm.Provider, log *logger.Logger) *PolicyValidator {
	return &PolicyValidator{store: store, provider: provider, log: log}
}

// DetectViolations runs all check families against an output text. Model
// call failures never fail the validation; the deterministic checks stand.
func (v *PolicyValidator) DetectViolations(ctx context.Context, output string, req ValidationRequest) []PolicyViolation {
	violations := []PolicyViolation{}

	violations = append(violations, v.checkProhibitedClauses(output)...)
	violations = append(violations, v.checkMissingWarranty(output, req)...)
	violations = append(violations, v.checkUnauthorizedDiscounts(output)...)
	violations = append(violations, v.checkBudgetCompliance(output, req)...)

	if v.provider != nil {
		modelViolations, err := v.modelAssistedPass(ctx, output, req)
		if err != nil {
			if v.log != nil {
				v.log.Warn("", "", "model-assisted policy analysis failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		} else {
			violations = append(violations, modelViolations...)
		}
	}

	return violations
}

// checkProhibitedClauses scans for high-risk clause patterns, reporting the
// match offsets and a canned rewrite per hit.
func (v *PolicyValidator) checkProhibitedClauses(output string) []PolicyViolation {
	violations := []PolicyViolation{}
	for _, p := range prohibitedPatterns {
		for _, loc := range p.re.FindAllStringIndex(output, -1) {
			violations = append(violations, PolicyViolation{
				Kind:         ViolationProhibitedClause,
				Severity:     SeverityHigh,
				Description:  fmt.Sprintf("Prohibited clause detected: %s", output[loc[0]:loc[1]]),
				Location:     fmt.Sprintf("Position %d-%d", loc[0], loc[1]),
				SuggestedFix: fmt.Sprintf("Replace with: %s", p.rewrite),
				AutoFixable:  true,
				PolicyRef:    "CR001",
			})
		}
	}
	return violations
}

// checkMissingWarranty flags high-discount proposals that never mention a
// warranty, guarantee, or protection term.
func (v *PolicyValidator) checkMissingWarranty(output string, req ValidationRequest) []PolicyViolation {
	discount, ok := extractDiscountPercent(output, req)
	if !ok || discount <= warrantyDiscountThreshold {
		return nil
	}
	if warrantyMentionRe.MatchString(output) {
		return nil
	}
	return []PolicyViolation{{
		Kind:         ViolationMissingWarranty,
		Severity:     SeverityMedium,
		Description:  fmt.Sprintf("Discount of %.1f%% requires warranty clause", discount),
		Location:     "Contract terms section",
		SuggestedFix: "Add standard warranty clause for high-discount contracts",
		AutoFixable:  true,
		PolicyRef:    "CR002",
	}}
}

// checkUnauthorizedDiscounts flags discount percentages above the authorized
// maximum. Only percentages coupled to a discount mention count; the critic's
// cap rewrite targets the same phrases.
func (v *PolicyValidator) checkUnauthorizedDiscounts(output string) []PolicyViolation {
	violations := []PolicyViolation{}
	for _, m := range discountMentionRe.FindAllStringSubmatchIndex(output, -1) {
		raw := submatchText(output, m, 1)
		if raw == "" {
			raw = submatchText(output, m, 2)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if value > maxAuthorizedDiscount {
			violations = append(violations, PolicyViolation{
				Kind:         ViolationUnauthorizedDiscount,
				Severity:     SeverityHigh,
				Description:  fmt.Sprintf("Discount of %.1f%% exceeds authorized limit (%.0f%%)", value, maxAuthorizedDiscount),
				Location:     fmt.Sprintf("Position %d-%d", m[0], m[1]),
				SuggestedFix: "Reduce discount to maximum authorized level or request approval",
				AutoFixable:  true,
				PolicyRef:    "CR003",
			})
		}
	}
	return violations
}

// checkBudgetCompliance compares the first currency-like number in the text
// against the category threshold.
func (v *PolicyValidator) checkBudgetCompliance(output string, req ValidationRequest) []PolicyViolation {
	if req.Category == "" {
		return nil
	}
	threshold, ok := v.store.Snapshot().BudgetThresholds[strings.ToLower(req.Category)]
	if !ok {
		return nil
	}

	m := currencyRe.FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || amount <= threshold {
		return nil
	}

	return []PolicyViolation{{
		Kind:         ViolationBudgetExceeded,
		Severity:     SeverityCritical,
		Description:  fmt.Sprintf("Amount $%.2f exceeds budget limit $%.2f for %s", amount, threshold, req.Category),
		Location:     "Pricing section",
		SuggestedFix: "Reduce amount to stay within budget limits",
		AutoFixable:  true,
		PolicyRef:    "CR003",
	}}
}

// modelAssistedPass asks the model for violations the pattern checks miss.
// The response must be a JSON object with a "violations" array.
func (v *PolicyValidator) modelAssistedPass(ctx context.Context, output string, req ValidationRequest) ([]PolicyViolation, error) {
	prompt := v.buildAnalysisPrompt(output, req)

	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   1000,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	return parseModelViolations(resp.Content), nil
}

func (v *PolicyValidator) buildAnalysisPrompt(output string, req ValidationRequest) string {
	var b strings.Builder
	b.WriteString("POLICY VALIDATION TASK\n\nENTERPRISE POLICIES:\n")
	if req.CriticContext != "" {
		b.WriteString(req.CriticContext)
	} else {
		b.WriteString(v.store.PolicyContextText())
	}
	b.WriteString("\nREQUEST CATEGORY: " + req.Category + "\n")
	b.WriteString("\nAGENT OUTPUT TO VALIDATE:\n" + output + "\n")
	b.WriteString(`
Analyze the output against the policies above. Respond in JSON:
{"violations": [{"type": "...", "severity": "low|medium|high|critical", "description": "...", "location": "...", "auto_fixable": true}]}
Focus on budget compliance, clause compliance, discount authorization, and warranty requirements.`)
	return b.String()
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseModelViolations extracts violations from a model response. Malformed
// responses yield no violations.
func parseModelViolations(content string) []PolicyViolation {
	raw := jsonObjectRe.FindString(content)
	if raw == "" {
		return nil
	}

	var parsed struct {
		Violations []struct {
			Type        string `json:"type"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
			Location    string `json:"location"`
			AutoFixable bool   `json:"auto_fixable"`
		} `json:"violations"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	violations := make([]PolicyViolation, 0, len(parsed.Violations))
	for _, pv := range parsed.Violations {
		violations = append(violations, PolicyViolation{
			Kind:        mapViolationKind(pv.Type),
			Severity:    mapSeverity(pv.Severity),
			Description: pv.Description,
			Location:    pv.Location,
			AutoFixable: pv.AutoFixable,
			PolicyRef:   "MODEL-ANALYSIS",
		})
	}
	return violations
}

func mapViolationKind(raw string) ViolationKind {
	switch strings.ToLower(raw) {
	case "prohibited_clause":
		return ViolationProhibitedClause
	case "missing_warranty":
		return ViolationMissingWarranty
	case "unauthorized_discount":
		return ViolationUnauthorizedDiscount
	case "budget_exceeded":
		return ViolationBudgetExceeded
	case "budget_threshold_exceeded":
		return ViolationBudgetThresholdExceeded
	case "missing_required_clause":
		return ViolationMissingRequiredClause
	default:
		return ViolationCompliance
	}
}

func mapSeverity(raw string) Severity {
	switch strings.ToLower(raw) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// extractDiscountPercent returns the discount in percent form, preferring
// the request's normalized target over discount mentions found in the text.
func extractDiscountPercent(output string, req ValidationRequest) (float64, bool) {
	if req.TargetDiscount != nil {
		return *req.TargetDiscount * 100, true
	}
	if m := discountMentionRe.FindStringSubmatch(output); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			return value, true
		}
	}
	return 0, false
}

// submatchText returns the text of capture group n from a SubmatchIndex
// result, or "" when the group did not participate in the match.
func submatchText(s string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return s[m[2*n]:m[2*n+1]]
}
