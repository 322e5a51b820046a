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
	"math"
	"strings"
)

// ContentType selects the token estimation multiplier for a piece of text.
type ContentType string

const (
	ContentTypeText      ContentType = "text"
	ContentTypeCode      ContentType = "code"
	ContentTypeJSON      ContentType = "json"
	ContentTypeTechnical ContentType = "technical"
)

// contentMultipliers calibrate the word-based estimate per content type.
// Code and technical prose tokenize denser than plain text.
var contentMultipliers = map[ContentType]float64{
	ContentTypeText:      1.3,
	ContentTypeCode:      1.5,
	ContentTypeJSON:      1.2,
	ContentTypeTechnical: 1.4,
}

// punctuationChars are counted at half weight in the token estimate.
const punctuationChars = `.,;:!?()[]{}"'`

// budgetTolerance is the overage fraction allowed by ValidateBudget.
const budgetTolerance = 0.05

// EstimateTokens approximates the token count of text for the given content
// type without calling a real tokenizer. The estimate is
// ceil((words + 0.5*punctuation) * multiplier), with a floor of one token
// for any non-empty text. Deterministic and monotone in the input.
func EstimateTokens(text string, contentType ContentType) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	multiplier, ok := contentMultipliers[contentType]
	if !ok {
		multiplier = contentMultipliers[ContentTypeText]
	}

	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		if strings.ContainsRune(punctuationChars, r) {
			punct++
		}
	}

	estimate := int(math.Ceil((float64(words) + 0.5*float64(punct)) * multiplier))
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

// EstimateTokensList sums the estimates of an ordered sequence of texts.
func EstimateTokensList(texts []string, contentType ContentType) int {
	total := 0
	for _, t := range texts {
		total += EstimateTokens(t, contentType)
	}
	return total
}

// EstimateTokensMap estimates a key-value mapping by counting its printable
// "key: value" form.
func EstimateTokensMap(m map[string]string, contentType ContentType) int {
	total := 0
	for k, v := range m {
		total += EstimateTokens(k+": "+v, contentType)
	}
	return total
}

// ValidateBudget reports whether an actual token count fits within a budget,
// allowing a small tolerance for estimation error.
func ValidateBudget(actual, budget int) bool {
	if budget < 0 {
		return false
	}
	return float64(actual) <= float64(budget)*(1.0+budgetTolerance)
}

// TruncateToBudget trims text at a word boundary so that its estimated token
// count fits the budget. Returns the text unchanged when it already fits.
func TruncateToBudget(text string, budget int, contentType ContentType) string {
	if EstimateTokens(text, contentType) <= budget {
		return text
	}
	if budget <= 0 {
		return ""
	}

	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := strings.Join(words[:mid], " ")
		if EstimateTokens(candidate, contentType) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
