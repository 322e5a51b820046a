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
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ViolationKind identifies the category of a policy violation.
type ViolationKind string

const (
	ViolationProhibitedClause        ViolationKind = "prohibited_clause"
	ViolationMissingRequiredClause   ViolationKind = "missing_required_clause"
	ViolationMissingWarranty         ViolationKind = "missing_warranty"
	ViolationUnauthorizedDiscount    ViolationKind = "unauthorized_discount"
	ViolationBudgetExceeded          ViolationKind = "budget_exceeded"
	ViolationBudgetThresholdExceeded ViolationKind = "budget_threshold_exceeded"
	ViolationCompliance              ViolationKind = "compliance_violation"
)

// Severity grades a policy violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityWeights are used when aggregating violations into a compliance
// score. Unknown severities weigh 0.5.
var severityWeights = map[Severity]float64{
	SeverityLow:      0.1,
	SeverityMedium:   0.3,
	SeverityHigh:     0.6,
	SeverityCritical: 1.0,
}

func severityWeight(s Severity) float64 {
	if w, ok := severityWeights[s]; ok {
		return w
	}
	return 0.5
}

// PolicyViolation is a single detected violation of enterprise policy.
type PolicyViolation struct {
	Kind         ViolationKind `json:"kind"`
	Severity     Severity      `json:"severity"`
	Description  string        `json:"description"`
	Location     string        `json:"location,omitempty"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
	AutoFixable  bool          `json:"auto_fixable"`
	PolicyRef    string        `json:"policy_reference,omitempty"`
}

// PolicyValidationResult is the outcome of a Policy Store validation.
type PolicyValidationResult struct {
	IsValid         bool              `json:"is_valid"`
	Violations      []PolicyViolation `json:"violations"`
	ComplianceScore float64           `json:"compliance_score"`
	FlaggedClauses  []string          `json:"flagged_clauses"`
}

// ComplianceRule describes an enforcement rule carried in the policy layer.
type ComplianceRule struct {
	RuleID           string `json:"rule_id" yaml:"rule_id"`
	Description      string `json:"description" yaml:"description"`
	Category         string `json:"category" yaml:"category"`
	EnforcementLevel string `json:"enforcement_level" yaml:"enforcement_level"`
}

// PolicySnapshot is an immutable view of the loaded enterprise policies.
// Snapshots are replaced wholesale on reload; callers must not mutate them.
type PolicySnapshot struct {
	EnterpriseOKRs    []string           `yaml:"enterprise_okrs"`
	ProhibitedClauses []string           `yaml:"prohibited_clauses"`
	RequiredClauses   []string           `yaml:"required_clauses"`
	BudgetThresholds  map[string]float64 `yaml:"budget_thresholds"`
	Guardrails        []string           `yaml:"compliance_guardrails"`
	LegalRequirements []string           `yaml:"legal_requirements"`
	ComplianceRules   []ComplianceRule   `yaml:"compliance_rules"`
}

// Baseline enterprise policy catalog. Environment and POLICY_FILE overrides
// replace the clause lists and thresholds; the OKR, guardrail, and legal
// catalogs change only via POLICY_FILE.
var (
	defaultEnterpriseOKRs = []string{
		"Reduce procurement costs by 15% while maintaining quality standards",
		"Achieve 95% contract compliance across all vendor agreements",
		"Implement sustainable procurement practices for 80% of suppliers",
		"Maintain vendor relationship satisfaction score above 4.2/5.0",
		"Ensure 100% data protection compliance in all vendor contracts",
	}

	defaultGuardrails = []string{
		"All contracts must include data protection clauses per GDPR requirements",
		"Liability caps must not exceed 2x annual contract value",
		"Termination clauses must allow 30-day notice period minimum",
		"Warranty periods must be minimum 12 months for hardware, 6 months for software",
		"Payment terms must not exceed 60 days from invoice receipt",
	}

	defaultLegalRequirements = []string{
		"Contracts must comply with local jurisdiction laws",
		"Intellectual property rights must be clearly defined",
		"Confidentiality agreements must be mutual and time-bound",
		"Force majeure clauses must include pandemic and cyber security events",
		"Dispute resolution must specify arbitration process and jurisdiction",
	}

	defaultComplianceRules = []ComplianceRule{
		{RuleID: "CR001", Description: "Prohibited clauses must not appear in contracts", Category: "prohibited_content", EnforcementLevel: "error"},
		{RuleID: "CR002", Description: "Required clauses must be present in all contracts", Category: "required_content", EnforcementLevel: "error"},
		{RuleID: "CR003", Description: "Budget thresholds must not be exceeded without approval", Category: "budget_compliance", EnforcementLevel: "warning"},
		{RuleID: "CR004", Description: "Liability waivers are strictly prohibited", Category: "liability_protection", EnforcementLevel: "block"},
		{RuleID: "CR005", Description: "Data protection clauses are mandatory for all vendors", Category: "data_privacy", EnforcementLevel: "error"},
	}
)

// Detection variations per canonical clause name. Matching is
// case-insensitive substring over a lowercased copy of the text.
var (
	prohibitedVariations = map[string][]string{
		"liability_waiver":    {"liability waiver", "waiver of liability", "waive liability", "waives liability", "waives all liability"},
		"indemnification":     {"indemnification", "indemnify", "hold harmless"},
		"unlimited_liability": {"unlimited liability", "unlimited damages", "no liability cap"},
	}

	requiredVariations = map[string][]string{
		"warranty":           {"warranty", "warranties", "guarantee"},
		"data_protection":    {"data protection", "privacy", "gdpr", "data security"},
		"termination_rights": {"termination", "terminate", "end agreement"},
	}
)

// requiredClauseMinLength is the text length below which the
// missing-required-clause check is skipped. Individual clauses submitted for
// review are too short to be expected to carry every required term.
const requiredClauseMinLength = 200

// clauseVariations returns the detection variations for a canonical clause
// name, falling back to the name itself with underscores spaced out.
func clauseVariations(catalog map[string][]string, canonical string) []string {
	if vs, ok := catalog[canonical]; ok {
		return vs
	}
	return []string{strings.ReplaceAll(strings.ToLower(canonical), "_", " ")}
}

// PolicyStore holds the enterprise policy snapshot and exposes the three
// policy validators. Reload swaps the snapshot atomically; readers always
// observe a complete snapshot.
type PolicyStore struct {
	mu       sync.RWMutex
	snapshot *PolicySnapshot
}

// NewPolicyStore builds a store from settings, applying the optional
// POLICY_FILE override on top of the baseline catalog.
func NewPolicyStore(settings *Settings) (*PolicyStore, error) {
	snapshot, err := buildSnapshot(settings)
	if err != nil {
		return nil, err
	}
	return &PolicyStore{snapshot: snapshot}, nil
}

// buildSnapshot assembles a policy snapshot from settings plus the optional
// YAML policy file.
func buildSnapshot(settings *Settings) (*PolicySnapshot, error) {
	snapshot := &PolicySnapshot{
		EnterpriseOKRs:    append([]string(nil), defaultEnterpriseOKRs...),
		ProhibitedClauses: append([]string(nil), settings.ProhibitedClauses...),
		RequiredClauses:   append([]string(nil), settings.RequiredClauses...),
		BudgetThresholds:  copyThresholds(settings.BudgetThresholds),
		Guardrails:        append([]string(nil), defaultGuardrails...),
		LegalRequirements: append([]string(nil), defaultLegalRequirements...),
		ComplianceRules:   append([]ComplianceRule(nil), defaultComplianceRules...),
	}

	if settings.PolicyFile != "" {
		if err := applyPolicyFile(snapshot, settings.PolicyFile); err != nil {
			return nil, fmt.Errorf("failed to load policy file %s: %w", settings.PolicyFile, err)
		}
	}

	return snapshot, nil
}

// applyPolicyFile merges a YAML policy document over the snapshot. Only
// sections present in the file are replaced.
func applyPolicyFile(snapshot *PolicySnapshot, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override PolicySnapshot
	if err := yaml.Unmarshal(data, &override); err != nil {
		return err
	}

	if len(override.EnterpriseOKRs) > 0 {
		snapshot.EnterpriseOKRs = override.EnterpriseOKRs
	}
	if len(override.ProhibitedClauses) > 0 {
		snapshot.ProhibitedClauses = override.ProhibitedClauses
	}
	if len(override.RequiredClauses) > 0 {
		snapshot.RequiredClauses = override.RequiredClauses
	}
	if len(override.BudgetThresholds) > 0 {
		snapshot.BudgetThresholds = override.BudgetThresholds
	}
	if len(override.Guardrails) > 0 {
		snapshot.Guardrails = override.Guardrails
	}
	if len(override.LegalRequirements) > 0 {
		snapshot.LegalRequirements = override.LegalRequirements
	}
	if len(override.ComplianceRules) > 0 {
		snapshot.ComplianceRules = override.ComplianceRules
	}
	return nil
}

// Snapshot returns the current policy snapshot.
func (s *PolicyStore) Snapshot() *PolicySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Reload rebuilds the snapshot from settings and swaps it in atomically.
// On failure the existing snapshot stays in place.
func (s *PolicyStore) Reload(settings *Settings) error {
	snapshot, err := buildSnapshot(settings)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
	return nil
}

// ComplianceRules returns a copy of the loaded compliance rules.
func (s *PolicyStore) ComplianceRules() []ComplianceRule {
	snapshot := s.Snapshot()
	return append([]ComplianceRule(nil), snapshot.ComplianceRules...)
}

// ValidateText checks contract text against the prohibited and required
// clause catalogs. The text is lowercased once; prohibited clauses match on
// any known variation, required clauses are checked only for texts long
// enough to plausibly be full contracts.
func (s *PolicyStore) ValidateText(text string) PolicyValidationResult {
	snapshot := s.Snapshot()

	violations := []PolicyViolation{}
	flagged := []string{}
	textLower := strings.ToLower(text)

	for _, prohibited := range snapshot.ProhibitedClauses {
		for _, variation := range clauseVariations(prohibitedVariations, prohibited) {
			if strings.Contains(textLower, variation) {
				violations = append(violations, PolicyViolation{
					Kind:        ViolationProhibitedClause,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("Contract contains prohibited clause: %s", prohibited),
					AutoFixable: true,
					PolicyRef:   "CR001",
				})
				flagged = append(flagged, prohibited)
				break
			}
		}
	}

	if len(text) > requiredClauseMinLength {
		for _, required := range snapshot.RequiredClauses {
			found := false
			for _, variation := range clauseVariations(requiredVariations, required) {
				if strings.Contains(textLower, variation) {
					found = true
					break
				}
			}
			if !found {
				violations = append(violations, PolicyViolation{
					Kind:        ViolationMissingRequiredClause,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("Contract missing required clause: %s", required),
					AutoFixable: true,
					PolicyRef:   "CR002",
				})
			}
		}
	}

	totalChecks := len(snapshot.ProhibitedClauses) + len(snapshot.RequiredClauses)
	score := 1.0
	if totalChecks > 0 {
		score = float64(totalChecks-len(violations)) / float64(totalChecks)
		if score < 0 {
			score = 0
		}
	}

	return PolicyValidationResult{
		IsValid:         len(violations) == 0,
		Violations:      violations,
		ComplianceScore: score,
		FlaggedClauses:  flagged,
	}
}

// ValidateBudget checks a spend amount against the per-category threshold.
// Categories without a configured threshold always pass.
func (s *PolicyStore) ValidateBudget(category string, amount float64) PolicyValidationResult {
	snapshot := s.Snapshot()

	violations := []PolicyViolation{}
	if threshold, ok := snapshot.BudgetThresholds[category]; ok && amount > threshold {
		violations = append(violations, PolicyViolation{
			Kind:     ViolationBudgetThresholdExceeded,
			Severity: SeverityMedium,
			Description: fmt.Sprintf("Budget request $%.2f exceeds threshold $%.2f for category %q",
				amount, threshold, category),
			AutoFixable: false,
			PolicyRef:   "CR003",
		})
	}

	score := 1.0
	if len(violations) > 0 {
		score = 0.5
	}

	return PolicyValidationResult{
		IsValid:         len(violations) == 0,
		Violations:      violations,
		ComplianceScore: score,
		FlaggedClauses:  []string{},
	}
}

// ValidateComprehensive combines text and budget validation. The combined
// score is the minimum of the two; the result is valid only when both pass.
func (s *PolicyStore) ValidateComprehensive(text, category string, amount *float64) PolicyValidationResult {
	textResult := s.ValidateText(text)
	if category == "" || amount == nil {
		return textResult
	}

	budgetResult := s.ValidateBudget(category, *amount)

	combined := PolicyValidationResult{
		IsValid:         textResult.IsValid && budgetResult.IsValid,
		Violations:      append(append([]PolicyViolation{}, textResult.Violations...), budgetResult.Violations...),
		ComplianceScore: textResult.ComplianceScore,
		FlaggedClauses:  append(append([]string{}, textResult.FlaggedClauses...), budgetResult.FlaggedClauses...),
	}
	if budgetResult.ComplianceScore < combined.ComplianceScore {
		combined.ComplianceScore = budgetResult.ComplianceScore
	}
	return combined
}

// CheckClauseCompliance scans a single clause for prohibited content.
func (s *PolicyStore) CheckClauseCompliance(clause string) []PolicyViolation {
	snapshot := s.Snapshot()

	violations := []PolicyViolation{}
	clauseLower := strings.ToLower(clause)
	for _, prohibited := range snapshot.ProhibitedClauses {
		for _, variation := range clauseVariations(prohibitedVariations, prohibited) {
			if strings.Contains(clauseLower, variation) {
				violations = append(violations, PolicyViolation{
					Kind:        ViolationProhibitedClause,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("Clause contains prohibited content: %s", prohibited),
					AutoFixable: true,
					PolicyRef:   "CR001",
				})
				break
			}
		}
	}
	return violations
}

// SuggestRequiredClauses returns the required clauses not yet covered by the
// given clause texts.
func (s *PolicyStore) SuggestRequiredClauses(existing []string) []string {
	snapshot := s.Snapshot()

	existingText := strings.ToLower(strings.Join(existing, " "))
	missing := []string{}
	for _, required := range snapshot.RequiredClauses {
		found := false
		for _, variation := range clauseVariations(requiredVariations, required) {
			if strings.Contains(existingText, variation) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, required)
		}
	}
	return missing
}

// PolicySummary is the operator-facing view of the loaded policies.
type PolicySummary struct {
	EnterpriseOKRCount    int                `json:"enterprise_okrs_count"`
	ProhibitedClauses     []string           `json:"prohibited_clauses"`
	RequiredClauses       []string           `json:"required_clauses"`
	BudgetThresholds      map[string]float64 `json:"budget_thresholds"`
	GuardrailCount        int                `json:"compliance_guardrails_count"`
	LegalRequirementCount int                `json:"legal_requirements_count"`
	ComplianceRuleCount   int                `json:"compliance_rules_count"`
}

// Summary reports counts and catalogs for the loaded policy snapshot.
func (s *PolicyStore) Summary() PolicySummary {
	snapshot := s.Snapshot()
	return PolicySummary{
		EnterpriseOKRCount:    len(snapshot.EnterpriseOKRs),
		ProhibitedClauses:     append([]string(nil), snapshot.ProhibitedClauses...),
		RequiredClauses:       append([]string(nil), snapshot.RequiredClauses...),
		BudgetThresholds:      copyThresholds(snapshot.BudgetThresholds),
		GuardrailCount:        len(snapshot.Guardrails),
		LegalRequirementCount: len(snapshot.LegalRequirements),
		ComplianceRuleCount:   len(snapshot.ComplianceRules),
	}
}

// PolicyContextText renders the policy snapshot as the Policy layer payload
// delivered to agents and the critic.
func (s *PolicyStore) PolicyContextText() string {
	snapshot := s.Snapshot()

	var b strings.Builder
	b.WriteString("ENTERPRISE OKRS:\n")
	for _, okr := range snapshot.EnterpriseOKRs {
		b.WriteString("- " + okr + "\n")
	}
	b.WriteString("\nPROHIBITED CLAUSES: " + strings.Join(snapshot.ProhibitedClauses, ", ") + "\n")
	b.WriteString("REQUIRED CLAUSES: " + strings.Join(snapshot.RequiredClauses, ", ") + "\n")
	b.WriteString("\nBUDGET THRESHOLDS:\n")
	for _, category := range sortedThresholdKeys(snapshot.BudgetThresholds) {
		b.WriteString(fmt.Sprintf("- %s: $%.2f\n", category, snapshot.BudgetThresholds[category]))
	}
	b.WriteString("\nCOMPLIANCE GUARDRAILS:\n")
	for _, g := range snapshot.Guardrails {
		b.WriteString("- " + g + "\n")
	}
	b.WriteString("\nLEGAL REQUIREMENTS:\n")
	for _, l := range snapshot.LegalRequirements {
		b.WriteString("- " + l + "\n")
	}
	return b.String()
}

func sortedThresholdKeys(thresholds map[string]float64) []string {
	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
