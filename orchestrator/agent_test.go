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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuarter(t *testing.T) {
	year := time.Now().Year()

	t.Run("accepts current and near-future years", func(t *testing.T) {
		assert.NoError(t, validateQuarter(fmt.Sprintf("Q1 %d", year)))
		assert.NoError(t, validateQuarter(fmt.Sprintf("Q4 %d", year+5)))
		assert.NoError(t, validateQuarter(fmt.Sprintf("  Q2 %d  ", year+1)))
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		for _, q := range []string{"", "Q5 2026", "Q1", "2026 Q1", "q1 2026", "Q1-2026"} {
			assert.Error(t, validateQuarter(q), "expected rejection of %q", q)
		}
	})

	t.Run("rejects out-of-range years", func(t *testing.T) {
		var verr *ValidationError
		err := validateQuarter(fmt.Sprintf("Q3 %d", year-1))
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "quarter", verr.Field)

		assert.Error(t, validateQuarter(fmt.Sprintf("Q3 %d", year+6)))
	})
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("vendor", "vendor is required")
	assert.Equal(t, "vendor: vendor is required", err.Error())

	bare := &ValidationError{Message: "malformed request"}
	assert.Equal(t, "malformed request", bare.Error())
}

func TestAgentRequestCategory(t *testing.T) {
	negotiation := &AgentRequest{Negotiation: &NegotiationPayload{Category: "software"}}
	assert.Equal(t, "software", negotiation.Category())

	forecast := &AgentRequest{Forecast: &ForecastPayload{Category: "hardware"}}
	assert.Equal(t, "hardware", forecast.Category())

	compliance := &AgentRequest{Compliance: &CompliancePayload{Clause: "..."}}
	assert.Equal(t, "", compliance.Category())
}

func TestExtractResponseSections(t *testing.T) {
	response := `PRICING_PROPOSAL: Target a 12% volume discount.
Apply tiered pricing above 500 seats.

CONTRACT_TERMS:
- 24 month term
- Net 45 payment

CONFIDENCE: 0.85
Some trailing commentary without a header.`

	sections := extractResponseSections(response)

	require.Contains(t, sections, "PRICING_PROPOSAL")
	assert.Contains(t, sections["PRICING_PROPOSAL"], "Target a 12% volume discount.")
	assert.Contains(t, sections["PRICING_PROPOSAL"], "tiered pricing")

	require.Contains(t, sections, "CONTRACT_TERMS")
	assert.Contains(t, sections["CONTRACT_TERMS"], "24 month term")

	// trailing lines attach to the last section seen
	require.Contains(t, sections, "CONFIDENCE")
	assert.Contains(t, sections["CONFIDENCE"], "0.85")
}

func TestExtractResponseSectionsIgnoresProse(t *testing.T) {
	sections := extractResponseSections("Here is my analysis: the terms look fine.\nNothing structured follows.")
	assert.Empty(t, sections)
}

func TestParseListSection(t *testing.T) {
	text := `• First recommendation
- Second recommendation
1. Third recommendation

* Fourth recommendation`

	items := parseListSection(text)
	assert.Equal(t, []string{
		"First recommendation",
		"Second recommendation",
		"Third recommendation",
		"Fourth recommendation",
	}, items)

	assert.Nil(t, parseListSection("   \n  "))
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, 0.85, parseConfidence("0.85", 0.5))
	assert.Equal(t, 0.85, parseConfidence("  0.85  ", 0.5))
	assert.Equal(t, 0.5, parseConfidence("very confident", 0.5))
	assert.Equal(t, 0.0, parseConfidence("-0.3", 0.5))
	assert.Equal(t, 1.0, parseConfidence("7", 0.5))
}
