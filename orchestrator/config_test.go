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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadSettingsDefaults(t *testing.T) {
	settings := LoadSettings()

	assert.Equal(t, "8000", settings.ServerPort)
	assert.Equal(t, "ollama", settings.LLMProvider)
	assert.Equal(t, 2000, settings.ContextBudgetTotal)
	assert.Equal(t, 500, settings.ContextBudgetPolicy)
	assert.Equal(t, 800, settings.ContextBudgetSession)
	assert.Equal(t, defaultProhibitedClauses, settings.ProhibitedClauses)
	assert.Equal(t, defaultRequiredClauses, settings.RequiredClauses)
	assert.Equal(t, defaultBudgetThresholds, settings.BudgetThresholds)
	assert.Equal(t, 0.15, settings.VarianceThreshold)
	assert.True(t, settings.AutoRevisionEnabled)
	assert.True(t, settings.AuditLogEnabled)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("PROHIBITED_CLAUSES", "exclusivity, perpetual_license")
	t.Setenv("BUDGET_THRESHOLDS", "software:60000,hardware:120000")
	t.Setenv("CONTEXT_BUDGET_TOTAL", "4000")
	t.Setenv("CONTEXT_BUDGET_GPC", "1000")
	t.Setenv("VARIANCE_THRESHOLD", "0.25")
	t.Setenv("AUTO_REVISION_ENABLED", "false")
	t.Setenv("LLM_PROVIDER", "openai")

	settings := LoadSettings()

	assert.Equal(t, []string{"exclusivity", "perpetual_license"}, settings.ProhibitedClauses)
	assert.Equal(t, map[string]float64{"software": 60000, "hardware": 120000}, settings.BudgetThresholds)
	assert.Equal(t, 4000, settings.ContextBudgetTotal)
	assert.Equal(t, 1000, settings.ContextBudgetPolicy)
	assert.Equal(t, 0.25, settings.VarianceThreshold)
	assert.False(t, settings.AutoRevisionEnabled)
	assert.Equal(t, "openai", settings.LLMProvider)
}

func TestLoadSettingsMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CONTEXT_BUDGET_TOTAL", "lots")
	t.Setenv("VARIANCE_THRESHOLD", "high")
	t.Setenv("AUTO_REVISION_ENABLED", "yep")
	t.Setenv("BUDGET_THRESHOLDS", "software:not-a-number")

	settings := LoadSettings()

	assert.Equal(t, 2000, settings.ContextBudgetTotal)
	assert.Equal(t, 0.15, settings.VarianceThreshold)
	assert.True(t, settings.AutoRevisionEnabled)
	assert.Equal(t, defaultBudgetThresholds, settings.BudgetThresholds)
}

func TestParseClauseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseClauseList("a, b", defaultProhibitedClauses))
	assert.Equal(t, defaultProhibitedClauses, parseClauseList("  ", defaultProhibitedClauses))
	assert.Equal(t, defaultProhibitedClauses, parseClauseList(",,", defaultProhibitedClauses))
}

func TestParseBudgetThresholds(t *testing.T) {
	t.Run("well formed pairs", func(t *testing.T) {
		thresholds := parseBudgetThresholds("software:60000, hardware: 120000")
		assert.Equal(t, map[string]float64{"software": 60000, "hardware": 120000}, thresholds)
	})

	t.Run("trailing brace tolerated", func(t *testing.T) {
		thresholds := parseBudgetThresholds("services:30000}")
		assert.Equal(t, map[string]float64{"services": 30000}, thresholds)
	})

	t.Run("empty input returns defaults", func(t *testing.T) {
		assert.Equal(t, defaultBudgetThresholds, parseBudgetThresholds(""))
	})

	t.Run("entries without colons are skipped", func(t *testing.T) {
		assert.Equal(t, defaultBudgetThresholds, parseBudgetThresholds("just-words"))
	})

	t.Run("unparseable amount returns defaults", func(t *testing.T) {
		assert.Equal(t, defaultBudgetThresholds, parseBudgetThresholds("software:sixty"))
	})
}
