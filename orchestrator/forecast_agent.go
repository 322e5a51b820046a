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
	"strings"

	"procuresense/platform/orchestrator/llm"
	"procuresense/platform/shared/logger"
)

// VarianceLevel tiers the budget variance of a forecast.
type VarianceLevel string

const (
	VarianceUnderBudget        VarianceLevel = "under_budget"
	VarianceOnTarget           VarianceLevel = "on_target"
	VarianceMinorOverage       VarianceLevel = "minor_overage"
	VarianceSignificantOverage VarianceLevel = "significant_overage"
	VarianceCriticalOverage    VarianceLevel = "critical_overage"
)

// AlignmentStatus grades how a planned spend relates to an enterprise OKR.
type AlignmentStatus string

const (
	AlignmentAligned          AlignmentStatus = "aligned"
	AlignmentPartiallyAligned AlignmentStatus = "partially_aligned"
	AlignmentMisaligned       AlignmentStatus = "misaligned"
	AlignmentUnknown          AlignmentStatus = "unknown"
)

// Variance tier boundaries as fractions of the budget allocation.
const (
	minorVarianceThreshold       = 0.05
	significantVarianceThreshold = 0.15
	criticalVarianceThreshold    = 0.25
)

// Approval thresholds in dollars.
const (
	executiveApprovalThreshold = 100000.0
	boardApprovalThreshold     = 500000.0
)

// BudgetVariance is the variance analysis for a forecast request.
type BudgetVariance struct {
	Category           string        `json:"category"`
	PlannedSpend       float64       `json:"planned_spend"`
	BudgetAllocation   float64       `json:"budget_allocation"`
	VarianceAmount     float64       `json:"variance_amount"`
	VariancePercentage float64       `json:"variance_percentage"`
	VarianceLevel      VarianceLevel `json:"variance_level"`
	ExceedsThreshold   bool          `json:"exceeds_threshold"`
}

// OKRAlignment scores a forecast request against one enterprise OKR.
type OKRAlignment struct {
	OKRText             string          `json:"okr_text"`
	AlignmentStatus     AlignmentStatus `json:"alignment_status"`
	AlignmentScore      float64         `json:"alignment_score"`
	SupportingRationale string          `json:"supporting_rationale"`
}

// ForecastAnalysis is the structured artifact behind the formatted forecast
// response.
type ForecastAnalysis struct {
	Category                  string
	Quarter                   string
	PlannedSpend              float64
	BudgetVariance            BudgetVariance
	OKRAlignments             []OKRAlignment
	TradeOffRecommendations   []string
	BudgetAdjustments         []string
	RiskFactors               []string
	ApprovalRequirements      []string
	Confidence                float64
	RequiresExecutiveApproval bool
}

// ForecastAgent analyzes planned spend against budget allocations and
// enterprise OKRs, tiering variance and deriving approval requirements.
type ForecastAgent struct {
	store    *PolicyStore
	provider llm.Provider
	log      *logger.Logger
}

// NewForecastAgent creates the forecast agent.
func NewForecastAgent(store *PolicyStore, provider llm.Provider, log *logger.Logger) *ForecastAgent {
	return &ForecastAgent{store: store, provider: provider, log: log}
}

// Kind returns the agent kind.
func (a *ForecastAgent) Kind() AgentKind {
	return AgentForecast
}

// Capabilities describes supported operations.
func (a *ForecastAgent) Capabilities() AgentCapabilities {
	return AgentCapabilities{
		Kind: AgentForecast,
		SupportedOperations: []string{
			"analyze_budget_alignment",
			"detect_variance",
			"recommend_trade_offs",
			"check_okr_alignment",
			"enforce_budget_gates",
			"calculate_adjustments",
		},
		MaxResponseTokens:  2000,
		SupportsAutoRevise: true,
	}
}

// Validate checks the forecast payload, including the quarter window.
func (a *ForecastAgent) Validate(req *AgentRequest) error {
	p := req.Forecast
	if p == nil {
		return NewValidationError("payload", "forecast payload is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return NewValidationError("category", "category must be a non-empty string")
	}
	if p.PlannedSpend < 0 {
		return NewValidationError("planned_spend", fmt.Sprintf("invalid planned spend: %g", p.PlannedSpend))
	}
	if p.CurrentBudget != nil && *p.CurrentBudget < 0 {
		return NewValidationError("current_budget", "current budget must be non-negative")
	}
	return validateQuarter(p.Quarter)
}

// Process runs the forecast analysis. Model failure falls back to
// deterministic recommendations derived from the variance tier.
func (a *ForecastAgent) Process(ctx context.Context, req *AgentRequest, lc *LayeredContext) (*AgentArtifact, error) {
	p := req.Forecast

	variance := a.analyzeBudgetVariance(p)
	alignments := a.analyzeOKRAlignment(p)

	tradeOffs, adjustments, risks := a.modelAnalysis(ctx, p, lc, variance, alignments)

	analysis := ForecastAnalysis{
		Category:                  p.Category,
		Quarter:                   p.Quarter,
		PlannedSpend:              p.PlannedSpend,
		BudgetVariance:            variance,
		OKRAlignments:             alignments,
		TradeOffRecommendations:   tradeOffs,
		BudgetAdjustments:         adjustments,
		RiskFactors:               risks,
		ApprovalRequirements:      approvalRequirements(p.PlannedSpend, variance.VarianceLevel),
		Confidence:                forecastConfidence(variance, alignments),
		RequiresExecutiveApproval: requiresExecutiveApproval(p.PlannedSpend, variance.VarianceLevel),
	}

	if a.log != nil {
		a.log.Info(req.SessionID, req.RequestID, "generated forecast analysis", map[string]interface{}{
			"category":           p.Category,
			"quarter":            p.Quarter,
			"variance_level":     string(variance.VarianceLevel),
			"executive_approval": analysis.RequiresExecutiveApproval,
		})
	}

	return &AgentArtifact{
		Response:        a.formatResponse(analysis),
		Recommendations: tradeOffs,
		Confidence:      analysis.Confidence,
	}, nil
}

// budgetAllocation resolves the allocation to compare against: the
// request's current budget when given, else the category threshold, else a
// default allocation.
func (a *ForecastAgent) budgetAllocation(p *ForecastPayload) float64 {
	if p.CurrentBudget != nil {
		return *p.CurrentBudget
	}
	if threshold, ok := a.store.Snapshot().BudgetThresholds[strings.ToLower(p.Category)]; ok {
		return threshold
	}
	return 50000.0
}

func (a *ForecastAgent) analyzeBudgetVariance(p *ForecastPayload) BudgetVariance {
	allocation := a.budgetAllocation(p)

	varianceAmount := p.PlannedSpend - allocation
	variancePct := 0.0
	if allocation > 0 {
		variancePct = varianceAmount / allocation
	}

	return BudgetVariance{
		Category:           p.Category,
		PlannedSpend:       p.PlannedSpend,
		BudgetAllocation:   allocation,
		VarianceAmount:     varianceAmount,
		VariancePercentage: variancePct,
		VarianceLevel:      varianceLevel(variancePct),
		ExceedsThreshold:   math.Abs(variancePct) > significantVarianceThreshold,
	}
}

func varianceLevel(variancePct float64) VarianceLevel {
	abs := math.Abs(variancePct)
	switch {
	case abs >= criticalVarianceThreshold:
		if variancePct > 0 {
			return VarianceCriticalOverage
		}
		return VarianceUnderBudget
	case abs >= significantVarianceThreshold:
		if variancePct > 0 {
			return VarianceSignificantOverage
		}
		return VarianceUnderBudget
	case abs >= minorVarianceThreshold:
		if variancePct > 0 {
			return VarianceMinorOverage
		}
		return VarianceOnTarget
	default:
		return VarianceOnTarget
	}
}

func (a *ForecastAgent) analyzeOKRAlignment(p *ForecastPayload) []OKRAlignment {
	okrs := a.store.Snapshot().EnterpriseOKRs
	alignments := make([]OKRAlignment, 0, len(okrs))
	for _, okr := range okrs {
		alignments = append(alignments, assessOKRAlignment(p, okr))
	}
	return alignments
}

// assessOKRAlignment scores one OKR by keyword heuristics against the
// category and spend magnitude.
func assessOKRAlignment(p *ForecastPayload, okrText string) OKRAlignment {
	okrLower := strings.ToLower(okrText)
	categoryLower := strings.ToLower(p.Category)

	score := 0.5
	status := AlignmentUnknown
	rationale := "Standard alignment assessment"

	switch {
	case containsAny(okrLower, "cost", "save", "reduce", "efficiency"):
		if p.PlannedSpend < 50000 {
			score = 0.8
			status = AlignmentAligned
			rationale = "Lower spending aligns with cost reduction objectives"
		} else {
			score = 0.3
			status = AlignmentMisaligned
			rationale = "Higher spending may conflict with cost reduction goals"
		}
	case containsAny(okrLower, "growth", "invest", "expand", "improve"):
		if p.PlannedSpend > 25000 {
			score = 0.8
			status = AlignmentAligned
			rationale = "Investment spending supports growth objectives"
		} else {
			score = 0.6
			status = AlignmentPartiallyAligned
			rationale = "Moderate spending partially supports growth goals"
		}
	}

	if categoryLower != "" && strings.Contains(okrLower, categoryLower) {
		score = math.Min(score+0.2, 1.0)
		rationale += fmt.Sprintf(" and directly relates to %s category", p.Category)
	}

	return OKRAlignment{
		OKRText:             okrText,
		AlignmentStatus:     status,
		AlignmentScore:      score,
		SupportingRationale: rationale,
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func approvalRequirements(plannedSpend float64, level VarianceLevel) []string {
	approvals := []string{}

	if plannedSpend >= boardApprovalThreshold {
		approvals = append(approvals, "Board of Directors approval required")
	} else if plannedSpend >= executiveApprovalThreshold {
		approvals = append(approvals, "Executive leadership approval required")
	}

	switch level {
	case VarianceCriticalOverage:
		approvals = append(approvals, "CFO approval required for critical budget variance")
	case VarianceSignificantOverage:
		approvals = append(approvals, "Finance director approval required for significant variance")
	}

	if len(approvals) == 0 {
		approvals = append(approvals, "Standard procurement approval process")
	}
	return approvals
}

func requiresExecutiveApproval(plannedSpend float64, level VarianceLevel) bool {
	if plannedSpend >= executiveApprovalThreshold {
		return true
	}
	return level == VarianceSignificantOverage || level == VarianceCriticalOverage
}

// forecastConfidence starts at 0.8, penalized by the variance tier and
// adjusted by the mean OKR alignment, bounded to [0.5, 1.0].
func forecastConfidence(variance BudgetVariance, alignments []OKRAlignment) float64 {
	confidence := 0.8

	switch variance.VarianceLevel {
	case VarianceMinorOverage:
		confidence -= 0.1
	case VarianceSignificantOverage:
		confidence -= 0.2
	case VarianceCriticalOverage:
		confidence -= 0.3
	}

	if len(alignments) > 0 {
		sum := 0.0
		for _, alignment := range alignments {
			sum += alignment.AlignmentScore
		}
		avg := sum / float64(len(alignments))
		confidence += (avg - 0.5) * 0.2
	}

	return math.Max(0.5, math.Min(1.0, confidence))
}

func (a *ForecastAgent) modelAnalysis(ctx context.Context, p *ForecastPayload, lc *LayeredContext, variance BudgetVariance, alignments []OKRAlignment) (tradeOffs, adjustments, risks []string) {
	prompt := a.buildPrompt(p, lc, variance, alignments)

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   a.Capabilities().MaxResponseTokens,
		Temperature: 0.4,
	})
	if err != nil {
		if a.log != nil {
			a.log.Warn("", "", "forecast model call failed, using fallback analysis", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return fallbackForecastAnalysis(variance)
	}

	sections := extractResponseSections(resp.Content)
	tradeOffs = parseListSection(sections["TRADE_OFF_RECOMMENDATIONS"])
	adjustments = parseListSection(sections["BUDGET_ADJUSTMENTS"])
	risks = parseListSection(sections["RISK_FACTORS"])

	if len(tradeOffs) == 0 && len(adjustments) == 0 && len(risks) == 0 {
		return fallbackForecastAnalysis(variance)
	}
	return tradeOffs, adjustments, risks
}

func (a *ForecastAgent) buildPrompt(p *ForecastPayload, lc *LayeredContext, variance BudgetVariance, alignments []OKRAlignment) string {
	var b strings.Builder
	b.WriteString("You are a financial planning expert analyzing procurement forecasts. Provide comprehensive budget analysis and recommendations.\n\n")
	b.WriteString("FORECAST REQUEST:\n")
	fmt.Fprintf(&b, "- Category: %s\n", p.Category)
	fmt.Fprintf(&b, "- Quarter: %s\n", p.Quarter)
	fmt.Fprintf(&b, "- Planned Spend: $%.2f\n", p.PlannedSpend)
	fmt.Fprintf(&b, "- Budget Allocation: $%.2f\n", variance.BudgetAllocation)
	fmt.Fprintf(&b, "- Variance: $%.2f (%.1f%%)\n", variance.VarianceAmount, variance.VariancePercentage*100)
	fmt.Fprintf(&b, "- Variance Level: %s\n", variance.VarianceLevel)
	if p.BusinessJustification != "" {
		fmt.Fprintf(&b, "- Justification: %s\n", p.BusinessJustification)
	}
	if p.StrategicPriority != "" {
		fmt.Fprintf(&b, "- Strategic Priority: %s\n", p.StrategicPriority)
	}

	b.WriteString("\nENTERPRISE POLICIES:\n" + lc.Policy)

	b.WriteString("\nOKR ALIGNMENT ANALYSIS:\n")
	for _, alignment := range alignments {
		fmt.Fprintf(&b, "- %s: %s (%.1f%%)\n", alignment.OKRText, alignment.AlignmentStatus, alignment.AlignmentScore*100)
	}

	b.WriteString(`
RESPONSE FORMAT:
TRADE_OFF_RECOMMENDATIONS: [Specific trade-off options]
BUDGET_ADJUSTMENTS: [Recommended budget adjustments]
RISK_FACTORS: [Potential risks and mitigation strategies]

Generate the forecast analysis:`)
	return b.String()
}

func fallbackForecastAnalysis(variance BudgetVariance) (tradeOffs, adjustments, risks []string) {
	switch variance.VarianceLevel {
	case VarianceSignificantOverage, VarianceCriticalOverage:
		tradeOffs = []string{
			"Consider phasing the spend across multiple quarters",
			"Evaluate alternative vendors or solutions",
			"Reduce scope to fit within budget constraints",
		}
		adjustments = []string{
			fmt.Sprintf("Request additional budget of $%.2f", math.Abs(variance.VarianceAmount)),
			"Reallocate funds from other categories",
			"Defer non-critical components to next quarter",
		}
		risks = []string{
			"Budget overage may impact other initiatives",
			"Requires executive approval for variance",
			"Potential delay if budget not approved",
		}
	case VarianceMinorOverage:
		tradeOffs = []string{
			"Minor adjustments to scope or timeline",
			"Negotiate better terms with vendors",
		}
		adjustments = []string{
			"Small budget increase may be acceptable",
			"Optimize procurement approach",
		}
	default:
		tradeOffs = []string{
			"Consider additional value-add features",
			"Invest savings in quality improvements",
		}
		adjustments = []string{
			"Budget allocation appears appropriate",
			"Consider reallocating surplus to other needs",
		}
	}
	return tradeOffs, adjustments, risks
}

func (a *ForecastAgent) formatResponse(analysis ForecastAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "BUDGET FORECAST ANALYSIS - %s %s\n", strings.ToUpper(analysis.Category), analysis.Quarter)
	b.WriteString(strings.Repeat("=", 60) + "\n")

	variance := analysis.BudgetVariance
	b.WriteString("\nBUDGET VARIANCE ANALYSIS:\n")
	fmt.Fprintf(&b, "Planned Spend: $%.2f\n", variance.PlannedSpend)
	fmt.Fprintf(&b, "Budget Allocation: $%.2f\n", variance.BudgetAllocation)
	fmt.Fprintf(&b, "Variance: $%.2f (%.1f%%)\n", variance.VarianceAmount, variance.VariancePercentage*100)
	fmt.Fprintf(&b, "Variance Level: %s\n", varianceLevelTitle(variance.VarianceLevel))

	if len(analysis.OKRAlignments) > 0 {
		b.WriteString("\nOKR ALIGNMENT ANALYSIS:\n")
		for _, alignment := range analysis.OKRAlignments {
			fmt.Fprintf(&b, "- %s\n", alignment.OKRText)
			fmt.Fprintf(&b, "  Status: %s (%.1f%%)\n", alignment.AlignmentStatus, alignment.AlignmentScore*100)
			fmt.Fprintf(&b, "  Rationale: %s\n", alignment.SupportingRationale)
		}
	}

	writeNumberedSection(&b, "TRADE-OFF RECOMMENDATIONS", analysis.TradeOffRecommendations)
	writeNumberedSection(&b, "BUDGET ADJUSTMENTS", analysis.BudgetAdjustments)
	writeNumberedSection(&b, "RISK FACTORS", analysis.RiskFactors)
	writeNumberedSection(&b, "APPROVAL REQUIREMENTS", analysis.ApprovalRequirements)

	if analysis.RequiresExecutiveApproval {
		b.WriteString("\nEXECUTIVE APPROVAL REQUIRED\n")
		b.WriteString("This forecast requires executive leadership review due to high spend or significant variance.\n")
	}

	b.WriteString("\nFORECAST SUMMARY:\n")
	fmt.Fprintf(&b, "Category: %s\n", analysis.Category)
	fmt.Fprintf(&b, "Quarter: %s\n", analysis.Quarter)
	fmt.Fprintf(&b, "Planned Spend: $%.2f\n", analysis.PlannedSpend)
	fmt.Fprintf(&b, "Variance Level: %s\n", varianceLevelTitle(variance.VarianceLevel))
	fmt.Fprintf(&b, "Confidence Score: %.1f%%\n", analysis.Confidence*100)
	executive := "Not Required"
	if analysis.RequiresExecutiveApproval {
		executive = "Required"
	}
	fmt.Fprintf(&b, "Executive Approval: %s", executive)

	return b.String()
}

func varianceLevelTitle(level VarianceLevel) string {
	words := strings.Split(string(level), "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
