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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T, total int) *ContextAssembler {
	t.Helper()
	store := newTestPolicyStore(t)
	return NewContextAssembler(store, NewContextBudgets(total), nil)
}

func bulkySessionData() SessionData {
	turns := make([]string, 8)
	for i := range turns {
		turns[i] = fmt.Sprintf("Turn %d covered negotiation strategy for enterprise software licensing and renewal terms", i+1)
	}
	tools := make([]string, 8)
	for i := range tools {
		tools[i] = fmt.Sprintf("Tool interaction %d queried the vendor pricing API for benchmark data", i+1)
	}
	return SessionData{
		ConversationTurns: turns,
		ToolInteractions:  tools,
		SessionFindings: []string{
			"Critical compliance violation found in draft terms",
			"Vendor offered seasonal pricing adjustment",
			"Risk identified in data processing addendum",
			"General observation about vendor responsiveness",
			"Another general observation about timelines",
		},
		UserPreferences: map[string]string{"currency": "USD"},
	}
}

func bulkyEphemeralData() EphemeralData {
	quotes := make([]string, 6)
	for i := range quotes {
		quotes[i] = fmt.Sprintf("Quote %d: vendor proposal with detailed line items and volume discount tiers", i+1)
	}
	return EphemeralData{
		Quotes:       quotes,
		Budgets:      []string{"Q3 budget allocation summary for software category"},
		VendorData:   []string{"Vendor scorecard covering delivery and support history"},
		APIResponses: []string{"Market pricing API response with benchmark percentiles"},
	}
}

func TestNewContextBudgetsShares(t *testing.T) {
	budgets := NewContextBudgets(2000)
	assert.Equal(t, 2000, budgets.Total)
	assert.Equal(t, 500, budgets.Policy)
	assert.Equal(t, 500, budgets.Domain)
	assert.Equal(t, 800, budgets.Session)
	assert.Equal(t, 200, budgets.Ephemeral)
}

func TestBudgetsFromSettings(t *testing.T) {
	t.Run("explicit budgets that cover the total are kept", func(t *testing.T) {
		settings := &Settings{
			ContextBudgetTotal:     1000,
			ContextBudgetPolicy:    300,
			ContextBudgetDomain:    200,
			ContextBudgetSession:   400,
			ContextBudgetEphemeral: 100,
		}
		budgets := BudgetsFromSettings(settings)
		assert.Equal(t, 300, budgets.Policy)
		assert.Equal(t, 400, budgets.Session)
	})

	t.Run("mismatched explicit budgets fall back to shares", func(t *testing.T) {
		settings := &Settings{
			ContextBudgetTotal:     1000,
			ContextBudgetPolicy:    900,
			ContextBudgetDomain:    900,
			ContextBudgetSession:   900,
			ContextBudgetEphemeral: 900,
		}
		budgets := BudgetsFromSettings(settings)
		assert.Equal(t, 250, budgets.Policy)
		assert.Equal(t, 400, budgets.Session)
	})
}

func TestAssembleWithinBudget(t *testing.T) {
	assembler := newTestAssembler(t, 100000)

	result := assembler.Assemble("session-1", "software", SessionData{}, EphemeralData{})

	require.NotNil(t, result)
	assert.Zero(t, result.Overflow)
	assert.Empty(t, result.Trace)
	assert.NotEmpty(t, result.Context.Policy)
	assert.Contains(t, result.Context.Domain.CategoryPlaybooks, "software")
	assert.Equal(t, result.Usage.TotalTokens,
		result.Usage.PolicyTokens+result.Usage.DomainTokens+result.Usage.SessionTokens+result.Usage.EphemeralTokens)
}

func TestAssemblePruningOrder(t *testing.T) {
	store := newTestPolicyStore(t)
	policyTokens := EstimateTokens(store.PolicyContextText(), ContentTypeTechnical)
	// a budget just above the policy layer forces every pruning pass
	assembler := NewContextAssembler(store, NewContextBudgets(policyTokens+20), nil)

	result := assembler.Assemble("session-1", "software", bulkySessionData(), bulkyEphemeralData())

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "ephemeral", result.Trace[0].Layer)
	assert.Equal(t, "complete removal", result.Trace[0].Strategy)
	assert.Equal(t, 0, result.Trace[0].TokensAfter)

	assert.Equal(t, "session", result.Trace[1].Layer)
	assert.Equal(t, "rolling summaries", result.Trace[1].Strategy)
	assert.Less(t, result.Trace[1].TokensAfter, result.Trace[1].TokensBefore)

	assert.Equal(t, "domain", result.Trace[2].Layer)
	assert.Equal(t, "intelligent summarization", result.Trace[2].Strategy)

	// the policy layer is never touched
	assert.Equal(t, policyTokens, result.Usage.PolicyTokens)
	assert.Equal(t, EphemeralData{}, result.Context.Ephemeral)
}

func TestAssemblePrunedSessionKeepsRecentTail(t *testing.T) {
	store := newTestPolicyStore(t)
	policyTokens := EstimateTokens(store.PolicyContextText(), ContentTypeTechnical)
	assembler := NewContextAssembler(store, NewContextBudgets(policyTokens+20), nil)

	session := bulkySessionData()
	result := assembler.Assemble("session-1", "software", session, EphemeralData{})

	pruned := result.Context.Session
	require.Len(t, pruned.ConversationTurns, 4) // summary plus last three
	assert.Contains(t, pruned.ConversationTurns[0], "negotiation discussion")
	assert.Equal(t, session.ConversationTurns[7], pruned.ConversationTurns[3])

	require.Len(t, pruned.ToolInteractions, 6) // summary plus last five
	assert.Contains(t, pruned.ToolInteractions[0], "API calls")

	require.Len(t, pruned.SessionFindings, 3)
	assert.Contains(t, pruned.SessionFindings[0], "Critical")
	// preferences survive pruning
	assert.Equal(t, session.UserPreferences, pruned.UserPreferences)
}

func TestPruneSessionHonorsReleaseBound(t *testing.T) {
	store := newTestPolicyStore(t)
	policyTokens := EstimateTokens(store.PolicyContextText(), ContentTypeTechnical)
	assembler := NewContextAssembler(store, NewContextBudgets(policyTokens), nil)

	turns := make([]string, 60)
	for i := range turns {
		turns[i] = fmt.Sprintf("Turn %d covered negotiation strategy for enterprise software licensing and renewal terms", i+1)
	}
	session := SessionData{ConversationTurns: turns}

	result := assembler.Assemble("session-1", "software", session, EphemeralData{})

	var step *PruningStep
	for i := range result.Trace {
		if result.Trace[i].Layer == "session" {
			step = &result.Trace[i]
		}
	}
	require.NotNil(t, step)
	bound := int(float64(step.TokensBefore) * maxSessionReduction)
	assert.LessOrEqual(t, step.TokensReleased, bound)

	// the kept tail grows past the minimum so the release fits the bound,
	// and recency is preserved
	kept := result.Context.Session.ConversationTurns
	assert.Greater(t, len(kept), 4)
	assert.Equal(t, turns[len(turns)-1], kept[len(kept)-1])
}

func TestPruneDomainLayerHonorsReleaseTarget(t *testing.T) {
	domain := DomainLayer{
		MarketIntelligence: []string{
			"Market trend: consolidation among SaaS vendors",
			"Market trend: rising renewal rates",
			"Market trend: longer procurement cycles",
			"Pricing benchmark for mid-market licenses",
		},
	}

	// a tiny target rejects every compression stage
	unchanged := pruneDomainLayer(domain, 1)
	assert.Equal(t, domain, unchanged)

	// a generous target lets the compression commit
	compressed := pruneDomainLayer(domain, measureDomain(domain))
	require.Len(t, compressed.MarketIntelligence, 2)
	assert.Contains(t, compressed.MarketIntelligence[0], "3 key trends identified")
}

func TestSimulateExtremePruningKeepsPolicyIntact(t *testing.T) {
	assembler := newTestAssembler(t, 2000)

	survived, result := assembler.SimulateExtremePruning("software", bulkySessionData(), bulkyEphemeralData())

	assert.True(t, survived)
	assert.NotEmpty(t, result.Context.Policy)
	assert.NotEmpty(t, result.Trace)
}

func TestLayeredContextRendering(t *testing.T) {
	lc := LayeredContext{
		Policy: "POLICY LAYER",
		Domain: DomainLayer{
			CategoryPlaybooks: map[string]string{"software": "Playbook content"},
			VendorGuidelines:  []string{"Preferred vendors for software"},
		},
		Session: SessionData{
			ConversationTurns: []string{"Discussed renewal terms"},
			UserPreferences:   map[string]string{"currency": "USD"},
		},
		Ephemeral: EphemeralData{Quotes: []string{"Quote A"}},
	}

	domain := lc.DomainText()
	assert.Contains(t, domain, "PLAYBOOK (software): Playbook content")
	assert.Contains(t, domain, "VENDOR GUIDELINES:")

	session := lc.SessionText()
	assert.Contains(t, session, "CONVERSATION:")
	assert.Contains(t, session, "- currency: USD")

	ephemeral := lc.EphemeralText()
	assert.Contains(t, ephemeral, "QUOTES:\n- Quote A")

	prompt := lc.PromptText()
	for _, fragment := range []string{"POLICY LAYER", "PLAYBOOK", "CONVERSATION:", "QUOTES:"} {
		assert.Contains(t, prompt, fragment)
	}
}

func TestCriticTextExcludesSessionAndEphemeral(t *testing.T) {
	lc := LayeredContext{
		Policy: "POLICY LAYER",
		Domain: DomainLayer{
			VendorGuidelines: []string{"Preferred vendors for software"},
		},
		Session:   SessionData{ConversationTurns: []string{"Secret session detail"}},
		Ephemeral: EphemeralData{Quotes: []string{"Secret quote"}},
	}

	text := lc.CriticText()
	assert.Contains(t, text, "POLICY LAYER")
	assert.Contains(t, text, "VENDOR GUIDELINES:")
	assert.NotContains(t, text, "Secret")

	bare := LayeredContext{Policy: "POLICY LAYER"}
	assert.Equal(t, "POLICY LAYER", bare.CriticText())
}

func TestCompressMarketIntelligence(t *testing.T) {
	items := []string{
		"Market trend: consolidation among SaaS vendors",
		"Market trend: rising renewal rates",
		"Pricing benchmark for mid-market licenses",
	}
	compressed := compressMarketIntelligence(items)
	require.Len(t, compressed, 2)
	assert.Contains(t, compressed[0], "2 key trends identified")
	assert.True(t, strings.Contains(compressed[1], "Pricing benchmark"))
}
