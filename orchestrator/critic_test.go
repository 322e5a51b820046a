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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCritic(t *testing.T, autoRevise bool) *GlobalPolicyCritic {
	t.Helper()
	validator := newTestValidator(t)
	return NewGlobalPolicyCritic(validator, autoRevise, nil)
}

func TestCriticApprovesCompliantOutput(t *testing.T) {
	critic := newTestCritic(t, true)

	output := "Standard proposal including warranty coverage and Net 30 payment terms."
	result := critic.ValidateOutput(context.Background(), output, ValidationRequest{}, nil)

	assert.Equal(t, ActionApproved, result.ActionTaken)
	assert.Equal(t, StatusCompliant, result.Status())
	assert.Equal(t, 1.0, result.ComplianceScore)
	assert.Empty(t, result.Violations)
	assert.Empty(t, result.RevisedOutput)
	assert.Equal(t, output, result.FinalText())
	assert.Len(t, result.PolicyChecks, 5)
}

func TestCriticAutoRevisesDiscountAndWarranty(t *testing.T) {
	critic := newTestCritic(t, true)

	output := "We offer a 35% discount on software licenses."
	result := critic.ValidateOutput(context.Background(), output, ValidationRequest{}, nil)

	require.Len(t, result.Violations, 2)
	assert.Equal(t, ActionAutoRevised, result.ActionTaken)
	assert.Equal(t, StatusRevised, result.Status())
	// mean of medium (0.3) and high (0.6) weights
	assert.Equal(t, 0.55, result.ComplianceScore)

	revised := result.FinalText()
	assert.Contains(t, revised, "25% discount")
	assert.NotContains(t, revised, "35% discount")
	assert.Contains(t, revised, "WARRANTY: Vendor provides standard warranty coverage")

	require.Len(t, result.RevisionNotes, 2)
	assert.Contains(t, result.RevisionNotes[0], "warranty clause")
	assert.Contains(t, result.RevisionNotes[1], "maximum authorized level")
}

func TestCriticFlagsWhenAutoReviseDisabled(t *testing.T) {
	critic := newTestCritic(t, false)

	result := critic.ValidateOutput(context.Background(),
		"We offer a 35% discount on software licenses.", ValidationRequest{}, nil)

	assert.Equal(t, ActionManualReviewRequired, result.ActionTaken)
	assert.Equal(t, StatusFlagged, result.Status())
	assert.Empty(t, result.RevisedOutput)
	assert.Equal(t, "We offer a 35% discount on software licenses.", result.FinalText())
}

func TestCriticAddsBudgetNote(t *testing.T) {
	critic := newTestCritic(t, true)

	output := "Total cost $75,000.00 with a 10% discount and warranty coverage."
	result := critic.ValidateOutput(context.Background(), output,
		ValidationRequest{Category: "software"}, nil)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, ViolationBudgetExceeded, result.Violations[0].Kind)
	assert.Equal(t, ActionAutoRevised, result.ActionTaken)
	assert.Contains(t, result.FinalText(), "NOTE: Proposal adjusted to comply with budget limits.")
	assert.Equal(t, 0.0, result.ComplianceScore)
}

func TestDetermineAction(t *testing.T) {
	fixableHigh := PolicyViolation{Severity: SeverityHigh, AutoFixable: true}
	unfixableMedium := PolicyViolation{Severity: SeverityMedium, AutoFixable: false}
	unfixableCritical := PolicyViolation{Severity: SeverityCritical, AutoFixable: false}

	assert.Equal(t, ActionApproved, determineAction(nil, true))
	assert.Equal(t, ActionAutoRevised, determineAction([]PolicyViolation{fixableHigh}, true))
	assert.Equal(t, ActionManualReviewRequired, determineAction([]PolicyViolation{fixableHigh}, false))
	assert.Equal(t, ActionManualReviewRequired, determineAction([]PolicyViolation{fixableHigh, unfixableMedium}, true))
	assert.Equal(t, ActionManualReviewRequired, determineAction([]PolicyViolation{fixableHigh, unfixableCritical}, true))
}

func TestComplianceScoreRounding(t *testing.T) {
	assert.Equal(t, 1.0, complianceScore(nil))
	assert.Equal(t, 0.4, complianceScore([]PolicyViolation{{Severity: SeverityHigh}}))
	assert.Equal(t, 0.0, complianceScore([]PolicyViolation{{Severity: SeverityCritical}}))
	assert.Equal(t, 0.55, complianceScore([]PolicyViolation{
		{Severity: SeverityMedium},
		{Severity: SeverityHigh},
	}))
}

func TestCriticResultStatus(t *testing.T) {
	compliant := &CriticResult{ComplianceScore: 1.0, ActionTaken: ActionApproved}
	assert.Equal(t, StatusCompliant, compliant.Status())

	revised := &CriticResult{
		ComplianceScore: 0.55,
		ActionTaken:     ActionAutoRevised,
		Violations:      []PolicyViolation{{Severity: SeverityHigh}},
	}
	assert.Equal(t, StatusRevised, revised.Status())

	flagged := &CriticResult{
		ComplianceScore: 0.4,
		ActionTaken:     ActionManualReviewRequired,
		Violations:      []PolicyViolation{{Severity: SeverityHigh}},
	}
	assert.Equal(t, StatusFlagged, flagged.Status())

	nonCompliant := &CriticResult{
		ComplianceScore: 0.4,
		ActionTaken:     ActionApproved,
		Violations:      []PolicyViolation{{Severity: SeverityHigh}},
	}
	assert.Equal(t, StatusNonCompliant, nonCompliant.Status())
}

func TestCapDiscounts(t *testing.T) {
	assert.Equal(t, "offer a 25% discount today", capDiscounts("offer a 30% discount today"))
	assert.Equal(t, "offer a 20% discount today", capDiscounts("offer a 20% discount today"))
	// both phrase orderings are rewritten
	assert.Equal(t, "Discount: 25%", capDiscounts("Discount: 30.0%"))
	assert.Equal(t, "Target Discount: 12.5%", capDiscounts("Target Discount: 12.5%"))
	assert.Equal(t, "25% discount and 25% discount", capDiscounts("40% discount and 99.5% discount"))
	// percentages without a discount mention are left alone
	assert.Equal(t, "Confidence: 90.0%", capDiscounts("Confidence: 90.0%"))
}

func TestCriticApprovesOutputWithBarePercentages(t *testing.T) {
	critic := newTestCritic(t, true)

	output := "CONFIDENCE SCORE: 70.0%\nVariance: $2,000.00 (32.5%) with warranty coverage."
	result := critic.ValidateOutput(context.Background(), output, ValidationRequest{}, nil)

	assert.Equal(t, ActionApproved, result.ActionTaken)
	assert.Equal(t, StatusCompliant, result.Status())
	assert.Empty(t, result.Violations)
	assert.Equal(t, output, result.FinalText())
}

func TestApplyProhibitedSubstitutions(t *testing.T) {
	revised := applyProhibitedSubstitutions("This includes a Liability Waiver and unlimited damages.")
	assert.Contains(t, revised, "limited liability provision")
	assert.Contains(t, revised, "liability limited to contract value")
	assert.NotContains(t, revised, "Liability Waiver")
	assert.NotContains(t, revised, "unlimited damages")
}

func TestReplaceInsensitive(t *testing.T) {
	assert.Equal(t, "a X b X c", replaceInsensitive("a FOO b foo c", "foo", "X"))
	assert.Equal(t, "untouched", replaceInsensitive("untouched", "missing", "X"))
	assert.Equal(t, "same", replaceInsensitive("same", "", "X"))
}
