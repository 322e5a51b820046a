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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		contentType ContentType
		want        int
	}{
		{
			name:        "empty text",
			text:        "",
			contentType: ContentTypeText,
			want:        0,
		},
		{
			name:        "whitespace only",
			text:        "   \n\t  ",
			contentType: ContentTypeText,
			want:        0,
		},
		{
			name:        "plain text two words",
			text:        "hello world",
			contentType: ContentTypeText,
			want:        3, // ceil(2 * 1.3)
		},
		{
			name:        "punctuation counts at half weight",
			text:        "a, b.",
			contentType: ContentTypeText,
			want:        4, // ceil((2 + 0.5*2) * 1.3)
		},
		{
			name:        "technical multiplier is denser than text",
			text:        "hello world",
			contentType: ContentTypeTechnical,
			want:        3, // ceil(2 * 1.4)
		},
		{
			name:        "unknown content type falls back to text",
			text:        "hello world",
			contentType: ContentType("bogus"),
			want:        3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text, tt.contentType))
		})
	}
}

func TestEstimateTokensMonotone(t *testing.T) {
	short := "procurement proposal for software licensing"
	long := short + " with extended warranty terms and delivery guarantees"
	assert.Greater(t, EstimateTokens(long, ContentTypeText), EstimateTokens(short, ContentTypeText))
}

func TestEstimateTokensList(t *testing.T) {
	items := []string{"first item", "second item", ""}
	want := EstimateTokens("first item", ContentTypeText) + EstimateTokens("second item", ContentTypeText)
	assert.Equal(t, want, EstimateTokensList(items, ContentTypeText))
	assert.Equal(t, 0, EstimateTokensList(nil, ContentTypeText))
}

func TestEstimateTokensMap(t *testing.T) {
	m := map[string]string{"currency": "USD"}
	assert.Equal(t, EstimateTokens("currency: USD", ContentTypeText), EstimateTokensMap(m, ContentTypeText))
	assert.Equal(t, 0, EstimateTokensMap(nil, ContentTypeText))
}

func TestValidateBudget(t *testing.T) {
	assert.True(t, ValidateBudget(100, 100))
	assert.True(t, ValidateBudget(105, 100)) // 5% tolerance
	assert.False(t, ValidateBudget(106, 100))
	assert.True(t, ValidateBudget(0, 0))
	assert.False(t, ValidateBudget(1, -1))
}

func TestTruncateToBudget(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta"

	t.Run("fits unchanged", func(t *testing.T) {
		assert.Equal(t, text, TruncateToBudget(text, 1000, ContentTypeText))
	})

	t.Run("zero budget yields empty", func(t *testing.T) {
		assert.Equal(t, "", TruncateToBudget(text, 0, ContentTypeText))
	})

	t.Run("truncates at word boundary within budget", func(t *testing.T) {
		budget := 5
		got := TruncateToBudget(text, budget, ContentTypeText)
		require.NotEqual(t, text, got)
		assert.LessOrEqual(t, EstimateTokens(got, ContentTypeText), budget)
		assert.True(t, strings.HasPrefix(text, got))
		assert.False(t, strings.HasSuffix(got, " "))
	})
}
