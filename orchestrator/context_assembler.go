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
	"math"
	"sort"
	"strings"

	"procuresense/platform/shared/logger"
)

// Layer budget shares of the total context budget.
const (
	policyShare    = 0.25
	domainShare    = 0.25
	sessionShare   = 0.40
	ephemeralShare = 0.10
)

// Maximum reductions applied during pruning, per layer. Policy is pinned.
const (
	maxEphemeralReduction = 1.00
	maxSessionReduction   = 0.75
	maxDomainReduction    = 0.60
)

// ContextBudgets holds the total and per-layer token budgets.
type ContextBudgets struct {
	Total     int
	Policy    int
	Domain    int
	Session   int
	Ephemeral int
}

// NewContextBudgets derives per-layer budgets from the total using the fixed
// layer shares.
func NewContextBudgets(total int) ContextBudgets {
	return ContextBudgets{
		Total:     total,
		Policy:    int(float64(total) * policyShare),
		Domain:    int(float64(total) * domainShare),
		Session:   int(float64(total) * sessionShare),
		Ephemeral: int(float64(total) * ephemeralShare),
	}
}

// BudgetsFromSettings uses the explicitly configured per-layer budgets when
// their shares of the total sum to 1.0 within tolerance, falling back to the
// share-derived split otherwise.
func BudgetsFromSettings(settings *Settings) ContextBudgets {
	total := settings.ContextBudgetTotal
	sum := settings.ContextBudgetPolicy + settings.ContextBudgetDomain +
		settings.ContextBudgetSession + settings.ContextBudgetEphemeral
	if total > 0 && math.Abs(float64(sum)/float64(total)-1.0) <= 0.001 {
		return ContextBudgets{
			Total:     total,
			Policy:    settings.ContextBudgetPolicy,
			Domain:    settings.ContextBudgetDomain,
			Session:   settings.ContextBudgetSession,
			Ephemeral: settings.ContextBudgetEphemeral,
		}
	}
	return NewContextBudgets(total)
}

// SessionData is the session-scoped material carried into the Session layer.
type SessionData struct {
	ConversationTurns []string          `json:"conversation_turns,omitempty"`
	ToolInteractions  []string          `json:"tool_interactions,omitempty"`
	SessionFindings   []string          `json:"session_findings,omitempty"`
	UserPreferences   map[string]string `json:"user_preferences,omitempty"`
}

// EphemeralData is transient request-scoped material for the Ephemeral layer.
type EphemeralData struct {
	Quotes       []string `json:"quotes,omitempty"`
	Budgets      []string `json:"budgets,omitempty"`
	VendorData   []string `json:"vendor_data,omitempty"`
	APIResponses []string `json:"api_responses,omitempty"`
}

// DomainLayer is the deterministic per-category strategy material.
type DomainLayer struct {
	CategoryPlaybooks  map[string]string
	VendorGuidelines   []string
	MarketIntelligence []string
	HistoricalPatterns []string
}

// LayeredContext is the four-layer context delivered to an agent. The Policy
// layer text is immutable once assembled.
type LayeredContext struct {
	Policy    string
	Domain    DomainLayer
	Session   SessionData
	Ephemeral EphemeralData
}

// ContextUsage reports the per-layer token counts of an assembled context.
type ContextUsage struct {
	PolicyTokens    int `json:"gpc_tokens"`
	DomainTokens    int `json:"dsc_tokens"`
	SessionTokens   int `json:"tsc_tokens"`
	EphemeralTokens int `json:"etc_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

// PruningStep records one pass of the pruning hierarchy for audit.
type PruningStep struct {
	Layer          string `json:"layer"`
	TokensBefore   int    `json:"tokens_before"`
	TokensAfter    int    `json:"tokens_after"`
	TokensReleased int    `json:"tokens_released"`
	Strategy       string `json:"strategy"`
}

// AssembledContext is the assembler's output: the context, its usage, the
// pruning trace, and any unresolvable overflow. Overflow > 0 means the
// budget could not be met; the context is still Policy-complete and usable.
type AssembledContext struct {
	Context  LayeredContext
	Usage    ContextUsage
	Trace    []PruningStep
	Overflow int
}

// ContextAssembler builds layered contexts against a token budget.
// Safe for concurrent use; per-request state never escapes Assemble.
type ContextAssembler struct {
	store   *PolicyStore
	budgets ContextBudgets
	log     *logger.Logger
}

// NewContextAssembler creates an assembler bound to a policy store and budget.
func NewContextAssembler(store *PolicyStore, budgets ContextBudgets, log *logger.Logger) *ContextAssembler {
	return &ContextAssembler{store: store, budgets: budgets, log: log}
}

// Budgets returns the configured budgets.
func (a *ContextAssembler) Budgets() ContextBudgets {
	return a.budgets
}

// Assemble builds the four layers for a request and reconciles them against
// the total budget via the pruning hierarchy.
func (a *ContextAssembler) Assemble(sessionID, category string, session SessionData, ephemeral EphemeralData) *AssembledContext {
	return a.assembleWithBudget(sessionID, category, session, ephemeral, a.budgets.Total)
}

func (a *ContextAssembler) assembleWithBudget(sessionID, category string, session SessionData, ephemeral EphemeralData, budget int) *AssembledContext {
	ctx := LayeredContext{
		Policy:    a.store.PolicyContextText(),
		Domain:    buildDomainLayer(category),
		Session:   session,
		Ephemeral: ephemeral,
	}

	result := &AssembledContext{Context: ctx}
	result.Usage = measureContext(&result.Context)

	if result.Usage.TotalTokens <= budget {
		return result
	}

	excess := result.Usage.TotalTokens - budget
	excess = a.pruneEphemeral(result, excess)
	excess = a.pruneSession(result, excess)
	excess = a.pruneDomain(result, excess)

	result.Usage = measureContext(&result.Context)
	if excess > 0 {
		result.Overflow = excess
		if a.log != nil {
			a.log.Warn(sessionID, "", "context still over budget after maximum pruning", map[string]interface{}{
				"overflow_tokens": excess,
				"policy_tokens":   result.Usage.PolicyTokens,
			})
		}
	}

	return result
}

// SimulateExtremePruning drives the budget down to just the Policy share and
// reports whether the Policy layer survived intact.
func (a *ContextAssembler) SimulateExtremePruning(category string, session SessionData, ephemeral EphemeralData) (survived bool, result *AssembledContext) {
	policyTokens := EstimateTokens(a.store.PolicyContextText(), ContentTypeTechnical)
	result = a.assembleWithBudget("", category, session, ephemeral, policyTokens)
	survived = result.Usage.PolicyTokens == policyTokens
	return survived, result
}

func (a *ContextAssembler) pruneEphemeral(result *AssembledContext, excess int) int {
	before := measureEphemeral(result.Context.Ephemeral)
	if excess <= 0 || before == 0 {
		return excess
	}

	result.Context.Ephemeral = EphemeralData{}

	released := before
	result.Trace = append(result.Trace, PruningStep{
		Layer:          "ephemeral",
		TokensBefore:   before,
		TokensAfter:    0,
		TokensReleased: released,
		Strategy:       "complete removal",
	})
	if released >= excess {
		return 0
	}
	return excess - released
}

func (a *ContextAssembler) pruneSession(result *AssembledContext, excess int) int {
	before := measureSession(result.Context.Session)
	if excess <= 0 || before == 0 {
		return excess
	}

	// One pass releases at most the layer reduction bound, and stops
	// summarizing once the excess is covered.
	target := excess
	if bound := int(float64(before) * maxSessionReduction); target > bound {
		target = bound
	}
	result.Context.Session = pruneSessionLayer(result.Context.Session, target)

	after := measureSession(result.Context.Session)
	released := before - after
	if released < 0 {
		released = 0
	}
	result.Trace = append(result.Trace, PruningStep{
		Layer:          "session",
		TokensBefore:   before,
		TokensAfter:    after,
		TokensReleased: released,
		Strategy:       "rolling summaries",
	})
	if released >= excess {
		return 0
	}
	return excess - released
}

func (a *ContextAssembler) pruneDomain(result *AssembledContext, excess int) int {
	before := measureDomain(result.Context.Domain)
	if excess <= 0 || before == 0 {
		return excess
	}

	target := excess
	if bound := int(float64(before) * maxDomainReduction); target > bound {
		target = bound
	}
	result.Context.Domain = pruneDomainLayer(result.Context.Domain, target)

	after := measureDomain(result.Context.Domain)
	released := before - after
	if released < 0 {
		released = 0
	}
	result.Trace = append(result.Trace, PruningStep{
		Layer:          "domain",
		TokensBefore:   before,
		TokensAfter:    after,
		TokensReleased: released,
		Strategy:       "intelligent summarization",
	})
	if released >= excess {
		return 0
	}
	return excess - released
}

// buildDomainLayer populates the Domain layer deterministically from the
// request category.
func buildDomainLayer(category string) DomainLayer {
	if category == "" {
		category = "general"
	}
	return DomainLayer{
		CategoryPlaybooks: map[string]string{
			category: fmt.Sprintf("Procurement playbook for %s category", category),
		},
		VendorGuidelines: []string{
			fmt.Sprintf("Preferred vendors for %s", category),
			fmt.Sprintf("Negotiation strategies for %s", category),
			fmt.Sprintf("Quality standards for %s", category),
		},
		MarketIntelligence: []string{
			fmt.Sprintf("Market trends for %s", category),
			fmt.Sprintf("Pricing benchmarks for %s", category),
		},
		HistoricalPatterns: []string{
			fmt.Sprintf("Historical negotiation outcomes for %s", category),
			fmt.Sprintf("Seasonal pricing patterns for %s", category),
		},
	}
}

// pruneSessionLayer applies rolling summaries with recency bias, releasing at
// most target tokens. When the default recency tail would overshoot the
// target, more recent entries stay verbatim. User preferences are always kept
// intact.
func pruneSessionLayer(s SessionData, target int) SessionData {
	if target <= 0 {
		return s
	}
	base := measureSession(s)

	if len(s.ConversationTurns) > 3 {
		s = summarizeTurnTail(s, base, target)
	}
	if base-measureSession(s) >= target {
		return s
	}

	if len(s.ToolInteractions) > 5 {
		s = summarizeToolTail(s, base, target)
	}
	if base-measureSession(s) >= target {
		return s
	}

	if len(s.SessionFindings) > 3 {
		candidate := s
		candidate.SessionFindings = compressSessionFindings(s.SessionFindings)
		if base-measureSession(candidate) <= target {
			s = candidate
		}
	}

	return s
}

// summarizeTurnTail folds older conversation turns into a topic summary,
// keeping at least the three most recent turns and growing the kept tail
// until the release fits the target.
func summarizeTurnTail(s SessionData, base, target int) SessionData {
	for keep := 3; keep < len(s.ConversationTurns); keep++ {
		old := s.ConversationTurns[:len(s.ConversationTurns)-keep]
		recent := s.ConversationTurns[len(s.ConversationTurns)-keep:]
		candidate := s
		candidate.ConversationTurns = append([]string{summarizeConversationTurns(old)}, recent...)
		if base-measureSession(candidate) <= target {
			return candidate
		}
	}
	return s
}

// summarizeToolTail collapses older tool interactions into category counts,
// keeping at least the five most recent interactions and growing the kept
// tail until the release fits the target.
func summarizeToolTail(s SessionData, base, target int) SessionData {
	for keep := 5; keep < len(s.ToolInteractions); keep++ {
		old := s.ToolInteractions[:len(s.ToolInteractions)-keep]
		recent := s.ToolInteractions[len(s.ToolInteractions)-keep:]
		candidate := s
		candidate.ToolInteractions = append([]string{summarizeToolInteractions(old)}, recent...)
		if base-measureSession(candidate) <= target {
			return candidate
		}
	}
	return s
}

func summarizeConversationTurns(turns []string) string {
	topics := []string{}
	seen := map[string]bool{}
	for _, turn := range turns {
		lower := strings.ToLower(turn)
		var topic string
		switch {
		case strings.Contains(lower, "negotiation"):
			topic = "negotiation discussion"
		case strings.Contains(lower, "compliance"):
			topic = "compliance review"
		case strings.Contains(lower, "forecast"):
			topic = "budget forecasting"
		case strings.Contains(lower, "procurement"):
			topic = "procurement planning"
		}
		if topic != "" && !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	if len(topics) > 0 {
		return "Previous discussion covered: " + strings.Join(topics, ", ")
	}
	return fmt.Sprintf("Previous conversation (%d turns)", len(turns))
}

func summarizeToolInteractions(interactions []string) string {
	kinds := []string{}
	seen := map[string]bool{}
	for _, interaction := range interactions {
		lower := strings.ToLower(interaction)
		var kind string
		switch {
		case strings.Contains(lower, "api"):
			kind = "API calls"
		case strings.Contains(lower, "database"):
			kind = "database queries"
		case strings.Contains(lower, "calculation"):
			kind = "calculations"
		}
		if kind != "" && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) > 0 {
		return fmt.Sprintf("Previous tool usage: %s (%d interactions)", strings.Join(kinds, ", "), len(interactions))
	}
	return fmt.Sprintf("Previous tool interactions (%d total)", len(interactions))
}

var priorityFindingKeywords = []string{"critical", "violation", "risk", "required"}

func compressSessionFindings(findings []string) []string {
	high := []string{}
	medium := []string{}
	for _, finding := range findings {
		lower := strings.ToLower(finding)
		prioritized := false
		for _, kw := range priorityFindingKeywords {
			if strings.Contains(lower, kw) {
				prioritized = true
				break
			}
		}
		if prioritized {
			high = append(high, finding)
		} else {
			medium = append(medium, finding)
		}
	}

	result := append([]string{}, high...)
	if len(medium) > 2 {
		result = append(result, fmt.Sprintf("Additional findings: %d items including insights on procurement patterns", len(medium)))
	} else {
		result = append(result, medium...)
	}
	if len(result) > 3 {
		result = result[:3]
	}
	return result
}

// pruneDomainLayer applies intelligent summarization preserving key strategic
// insights, releasing at most target tokens. Each compression stage commits
// only while the cumulative release stays within the target.
func pruneDomainLayer(d DomainLayer, target int) DomainLayer {
	if target <= 0 {
		return d
	}
	base := measureDomain(d)
	withinTarget := func(candidate DomainLayer) bool {
		return base-measureDomain(candidate) <= target
	}

	if len(d.MarketIntelligence) > 2 {
		candidate := d
		candidate.MarketIntelligence = compressMarketIntelligence(d.MarketIntelligence)
		if withinTarget(candidate) {
			d = candidate
		}
	}
	if base-measureDomain(d) >= target {
		return d
	}
	if len(d.HistoricalPatterns) > 2 {
		candidate := d
		candidate.HistoricalPatterns = compressHistoricalPatterns(d.HistoricalPatterns)
		if withinTarget(candidate) {
			d = candidate
		}
	}
	if base-measureDomain(d) >= target {
		return d
	}
	if len(d.VendorGuidelines) > 3 {
		candidate := d
		candidate.VendorGuidelines = prioritizeVendorGuidelines(d.VendorGuidelines)
		if withinTarget(candidate) {
			d = candidate
		}
	}
	if base-measureDomain(d) >= target {
		return d
	}
	if len(d.CategoryPlaybooks) > 0 {
		candidate := d
		candidate.CategoryPlaybooks = compressPlaybooks(d.CategoryPlaybooks)
		if withinTarget(candidate) {
			d = candidate
		}
	}
	return d
}

func compressMarketIntelligence(items []string) []string {
	trends := []string{}
	pricing := []string{}
	other := []string{}
	for _, item := range items {
		lower := strings.ToLower(item)
		switch {
		case strings.Contains(lower, "trend"):
			trends = append(trends, item)
		case strings.Contains(lower, "pric"):
			pricing = append(pricing, item)
		default:
			other = append(other, item)
		}
	}

	result := []string{}
	if len(trends) > 1 {
		result = append(result, fmt.Sprintf("Market trends: %d key trends identified", len(trends)))
	} else {
		result = append(result, trends...)
	}
	if len(pricing) > 1 {
		result = append(result, fmt.Sprintf("Pricing intelligence: %d pricing insights available", len(pricing)))
	} else {
		result = append(result, pricing...)
	}
	if len(other) > 0 {
		result = append(result, other[0])
	}
	if len(result) > 2 {
		result = result[:2]
	}
	return result
}

func compressHistoricalPatterns(patterns []string) []string {
	seasonal := []string{}
	negotiation := []string{}
	other := []string{}
	for _, p := range patterns {
		lower := strings.ToLower(p)
		switch {
		case strings.Contains(lower, "seasonal"):
			seasonal = append(seasonal, p)
		case strings.Contains(lower, "negotiation"):
			negotiation = append(negotiation, p)
		default:
			other = append(other, p)
		}
	}

	result := []string{}
	if len(negotiation) > 0 {
		result = append(result, negotiation[0])
	}
	if len(seasonal) > 0 {
		result = append(result, seasonal[0])
	}
	if len(result) < 2 {
		result = append(result, other[:min(len(other), 2-len(result))]...)
	}
	if len(result) > 2 {
		result = result[:2]
	}
	return result
}

var priorityGuidelineKeywords = []string{"compliance", "risk", "required", "mandatory"}

func prioritizeVendorGuidelines(guidelines []string) []string {
	high := []string{}
	medium := []string{}
	for _, g := range guidelines {
		lower := strings.ToLower(g)
		prioritized := false
		for _, kw := range priorityGuidelineKeywords {
			if strings.Contains(lower, kw) {
				prioritized = true
				break
			}
		}
		if prioritized {
			high = append(high, g)
		} else {
			medium = append(medium, g)
		}
	}

	result := high
	if len(result) > 2 {
		result = result[:2]
	}
	if remaining := 3 - len(result); remaining > 0 {
		result = append(result, medium[:min(len(medium), remaining)]...)
	}
	if len(result) > 3 {
		result = result[:3]
	}
	return result
}

func compressPlaybooks(playbooks map[string]string) map[string]string {
	compressed := make(map[string]string, len(playbooks))
	for category, playbook := range playbooks {
		if len(playbook) > 200 {
			if strings.Contains(strings.ToLower(playbook), "strategy") {
				compressed[category] = fmt.Sprintf("Strategic playbook for %s with key negotiation points", category)
			} else {
				compressed[category] = fmt.Sprintf("Procurement playbook for %s category", category)
			}
		} else {
			compressed[category] = playbook
		}
	}
	return compressed
}

// Rendering and measurement

// DomainText renders the Domain layer for prompts.
func (c *LayeredContext) DomainText() string {
	var b strings.Builder
	for _, category := range sortedPlaybookKeys(c.Domain.CategoryPlaybooks) {
		b.WriteString("PLAYBOOK (" + category + "): " + c.Domain.CategoryPlaybooks[category] + "\n")
	}
	writeSection(&b, "VENDOR GUIDELINES", c.Domain.VendorGuidelines)
	writeSection(&b, "MARKET INTELLIGENCE", c.Domain.MarketIntelligence)
	writeSection(&b, "HISTORICAL PATTERNS", c.Domain.HistoricalPatterns)
	return b.String()
}

// SessionText renders the Session layer for prompts.
func (c *LayeredContext) SessionText() string {
	var b strings.Builder
	writeSection(&b, "CONVERSATION", c.Session.ConversationTurns)
	writeSection(&b, "TOOL INTERACTIONS", c.Session.ToolInteractions)
	writeSection(&b, "FINDINGS", c.Session.SessionFindings)
	if len(c.Session.UserPreferences) > 0 {
		b.WriteString("PREFERENCES:\n")
		for _, k := range sortedPlaybookKeys(c.Session.UserPreferences) {
			b.WriteString("- " + k + ": " + c.Session.UserPreferences[k] + "\n")
		}
	}
	return b.String()
}

// EphemeralText renders the Ephemeral layer for prompts.
func (c *LayeredContext) EphemeralText() string {
	var b strings.Builder
	writeSection(&b, "QUOTES", c.Ephemeral.Quotes)
	writeSection(&b, "BUDGETS", c.Ephemeral.Budgets)
	writeSection(&b, "VENDOR DATA", c.Ephemeral.VendorData)
	writeSection(&b, "API RESPONSES", c.Ephemeral.APIResponses)
	return b.String()
}

// PromptText renders all four layers for an agent prompt.
func (c *LayeredContext) PromptText() string {
	sections := []string{c.Policy, c.DomainText(), c.SessionText(), c.EphemeralText()}
	nonEmpty := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

// CriticText renders only the Policy and Domain layers. Session and
// Ephemeral content is deliberately excluded from critic input.
func (c *LayeredContext) CriticText() string {
	domain := c.DomainText()
	if strings.TrimSpace(domain) == "" {
		return c.Policy
	}
	return c.Policy + "\n" + domain
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

func sortedPlaybookKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func measureContext(c *LayeredContext) ContextUsage {
	usage := ContextUsage{
		PolicyTokens:    EstimateTokens(c.Policy, ContentTypeTechnical),
		DomainTokens:    measureDomain(c.Domain),
		SessionTokens:   measureSession(c.Session),
		EphemeralTokens: measureEphemeral(c.Ephemeral),
	}
	usage.TotalTokens = usage.PolicyTokens + usage.DomainTokens + usage.SessionTokens + usage.EphemeralTokens
	return usage
}

func measureDomain(d DomainLayer) int {
	total := 0
	for category, playbook := range d.CategoryPlaybooks {
		total += EstimateTokens(category+": "+playbook, ContentTypeText)
	}
	total += EstimateTokensList(d.VendorGuidelines, ContentTypeText)
	total += EstimateTokensList(d.MarketIntelligence, ContentTypeText)
	total += EstimateTokensList(d.HistoricalPatterns, ContentTypeText)
	return total
}

func measureSession(s SessionData) int {
	total := EstimateTokensList(s.ConversationTurns, ContentTypeText)
	total += EstimateTokensList(s.ToolInteractions, ContentTypeText)
	total += EstimateTokensList(s.SessionFindings, ContentTypeText)
	total += EstimateTokensMap(s.UserPreferences, ContentTypeText)
	return total
}

func measureEphemeral(e EphemeralData) int {
	total := EstimateTokensList(e.Quotes, ContentTypeJSON)
	total += EstimateTokensList(e.Budgets, ContentTypeJSON)
	total += EstimateTokensList(e.VendorData, ContentTypeJSON)
	total += EstimateTokensList(e.APIResponses, ContentTypeJSON)
	return total
}
