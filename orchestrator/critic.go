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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"procuresense/platform/shared/logger"
)

// RevisionAction is the critic's decision for an agent output.
type RevisionAction string

const (
	ActionApproved             RevisionAction = "approved"
	ActionAutoRevised          RevisionAction = "auto_revised"
	ActionManualReviewRequired RevisionAction = "manual_review_required"
)

// ComplianceStatus is the workflow-level compliance outcome.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusRevised      ComplianceStatus = "revised"
	StatusFlagged      ComplianceStatus = "flagged"
	StatusNonCompliant ComplianceStatus = "non_compliant"
	StatusError        ComplianceStatus = "error"
)

// CriticResult is the outcome of a critic review.
type CriticResult struct {
	OriginalOutput   string            `json:"original_output"`
	RevisedOutput    string            `json:"revised_output,omitempty"`
	Violations       []PolicyViolation `json:"violations"`
	ActionTaken      RevisionAction    `json:"action_taken"`
	ComplianceScore  float64           `json:"compliance_score"`
	RevisionNotes    []string          `json:"revision_notes"`
	PolicyChecks     []string          `json:"policy_checks_performed"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Status maps the critic decision to the workflow compliance status.
func (r *CriticResult) Status() ComplianceStatus {
	switch {
	case r.ComplianceScore >= 0.9 && len(r.Violations) == 0:
		return StatusCompliant
	case r.ActionTaken == ActionAutoRevised:
		return StatusRevised
	case r.ActionTaken == ActionManualReviewRequired:
		return StatusFlagged
	default:
		return StatusNonCompliant
	}
}

// FinalText returns the output that leaves the workflow: the revision when one
// was produced, else the original.
func (r *CriticResult) FinalText() string {
	if r.RevisedOutput != "" {
		return r.RevisedOutput
	}
	return r.OriginalOutput
}

// criticPolicyChecks is the fixed list of check families the critic runs.
var criticPolicyChecks = []string{
	"Prohibited clause detection",
	"Warranty requirement validation",
	"Discount authorization check",
	"Budget compliance verification",
	"LLM-based policy analysis",
}

// Canonical substitutions applied during auto-revision of prohibited clause
// language.
var prohibitedReplacements = map[string]string{
	"liability waiver":    "limited liability provision",
	"indemnification":     "mutual indemnification",
	"unlimited liability": "liability limited to contract value",
}

const warrantyClauseText = "\n\nWARRANTY: Vendor provides standard warranty coverage for all deliverables as required for high-discount contracts."

// The cap rewrites cover both orderings the detection couples: "NN% discount"
// and "discount ... NN%" on one line.
var (
	discountCapRe        = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)%(\s*discount)`)
	discountCapReverseRe = regexp.MustCompile(`(?i)(discount[^\n%]*?)(\d+(?:\.\d+)?)%`)
)

// GlobalPolicyCritic reviews every agent output against enterprise policy
// before it leaves the service. The critic sees only the Policy and Domain
// context layers; session and ephemeral material never reaches it.
type GlobalPolicyCritic struct {
	validator  *PolicyValidator
	autoRevise bool
	log        *logger.Logger
}

// NewGlobalPolicyCritic builds the critic. When autoRevise is false every
// fixable violation escalates to manual review instead.
func NewGlobalPolicyCritic(validator *PolicyValidator, autoRevise bool, log *logger.Logger) *GlobalPolicyCritic {
	return &GlobalPolicyCritic{validator: validator, autoRevise: autoRevise, log: log}
}

// ValidateOutput reviews an agent output. The lc argument provides the
// critic-visible context (Policy and Domain layers only, via CriticText).
func (c *GlobalPolicyCritic) ValidateOutput(ctx context.Context, output string, req ValidationRequest, lc *LayeredContext) *CriticResult {
	start := time.Now()
	if lc != nil {
		req.CriticContext = lc.CriticText()
	}

	violations := c.validator.DetectViolations(ctx, output, req)
	action := determineAction(violations, c.autoRevise)

	result := &CriticResult{
		OriginalOutput:  output,
		Violations:      violations,
		ActionTaken:     action,
		ComplianceScore: complianceScore(violations),
		RevisionNotes:   []string{},
		PolicyChecks:    criticPolicyChecks,
		Timestamp:       time.Now().UTC(),
	}

	if action == ActionAutoRevised {
		revised, notes := autoRevise(output, violations)
		result.RevisedOutput = revised
		result.RevisionNotes = notes
	}

	result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	if c.log != nil {
		c.log.Info("", "", "critic review completed", map[string]interface{}{
			"action":           string(action),
			"violations":       len(violations),
			"compliance_score": result.ComplianceScore,
			"status":           string(result.Status()),
		})
	}

	return result
}

// determineAction decides the critic outcome. Critical violations that cannot
// all be auto-fixed always require manual review.
func determineAction(violations []PolicyViolation, autoReviseEnabled bool) RevisionAction {
	if len(violations) == 0 {
		return ActionApproved
	}

	allFixable := true
	criticalUnfixed := false
	for _, v := range violations {
		if !v.AutoFixable {
			allFixable = false
			if v.Severity == SeverityCritical {
				criticalUnfixed = true
			}
		}
	}

	if criticalUnfixed {
		return ActionManualReviewRequired
	}
	if allFixable && autoReviseEnabled {
		return ActionAutoRevised
	}
	return ActionManualReviewRequired
}

// complianceScore computes 1 minus the mean severity weight of the
// violations, floored at zero and rounded to two decimals.
func complianceScore(violations []PolicyViolation) float64 {
	if len(violations) == 0 {
		return 1.0
	}
	totalWeight := 0.0
	for _, v := range violations {
		totalWeight += severityWeight(v.Severity)
	}
	score := math.Max(0, 1.0-totalWeight/float64(len(violations)))
	return math.Round(score*100) / 100
}

// autoRevise applies the per-kind fixes and returns the revised text with a
// note per applied fix.
func autoRevise(output string, violations []PolicyViolation) (string, []string) {
	revised := output
	notes := []string{}

	for _, v := range violations {
		if !v.AutoFixable {
			continue
		}
		switch v.Kind {
		case ViolationProhibitedClause:
			before := revised
			revised = applyProhibitedSubstitutions(revised)
			if revised != before {
				notes = append(notes, fmt.Sprintf("Replaced prohibited clause language (%s)", v.Description))
			}
		case ViolationMissingWarranty:
			if !strings.Contains(revised, strings.TrimSpace(warrantyClauseText)) {
				revised += warrantyClauseText
				notes = append(notes, "Added required warranty clause for high-discount contract")
			}
		case ViolationUnauthorizedDiscount:
			before := revised
			revised = capDiscounts(revised)
			if revised != before {
				notes = append(notes, "Reduced discount to maximum authorized level (25%)")
			}
		case ViolationBudgetExceeded, ViolationBudgetThresholdExceeded:
			const budgetNote = "\n\nNOTE: Proposal adjusted to comply with budget limits."
			if !strings.Contains(revised, strings.TrimSpace(budgetNote)) {
				revised += budgetNote
				notes = append(notes, "Added budget compliance note")
			}
		}
	}

	return revised, notes
}

// applyProhibitedSubstitutions rewrites prohibited clause language using the
// canonical substitutions and the pattern catalog rewrites.
func applyProhibitedSubstitutions(text string) string {
	revised := text
	for from, to := range prohibitedReplacements {
		revised = replaceInsensitive(revised, from, to)
	}
	for _, p := range prohibitedPatterns {
		revised = p.re.ReplaceAllString(revised, p.rewrite)
	}
	return revised
}

// capDiscounts rewrites any discount percentage above the authorized maximum
// down to the maximum, in both phrase orderings.
func capDiscounts(text string) string {
	revised := discountCapRe.ReplaceAllStringFunc(text, func(match string) string {
		m := discountCapRe.FindStringSubmatch(match)
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= maxAuthorizedDiscount {
			return match
		}
		return fmt.Sprintf("%.0f%%%s", maxAuthorizedDiscount, m[2])
	})
	return discountCapReverseRe.ReplaceAllStringFunc(revised, func(match string) string {
		m := discountCapReverseRe.FindStringSubmatch(match)
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil || value <= maxAuthorizedDiscount {
			return match
		}
		return fmt.Sprintf("%s%.0f%%", m[1], maxAuthorizedDiscount)
	})
}

// replaceInsensitive replaces every case-insensitive occurrence of from with
// to, preserving the surrounding text.
func replaceInsensitive(s, from, to string) string {
	if from == "" {
		return s
	}
	lower := strings.ToLower(s)
	fromLower := strings.ToLower(from)

	var b strings.Builder
	for {
		idx := strings.Index(lower, fromLower)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteString(to)
		s = s[idx+len(from):]
		lower = lower[idx+len(fromLower):]
	}
}
