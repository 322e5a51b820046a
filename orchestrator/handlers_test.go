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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, adminSecret string) (*Server, *IntegrationManager) {
	t.Helper()
	engine, _, integration := newTestEngine(t, llmMock(t))
	server := NewServer(engine, integration, newTestPolicyStore(t), nil, newAdminGuard(adminSecret), nil)
	return server, integration
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")

	rec := doJSON(t, server.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["agents"], 3)
	assert.Equal(t, true, body["audit_healthy"])

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
}

func TestAgentStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/agent/compliance", map[string]interface{}{
		"clause": "Payment is due within 30 days of invoice receipt.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/status/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents map[string]agentStatusEntry `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.Agents, "negotiation")
	assert.True(t, body.Agents["negotiation"].Capabilities.SupportsAutoRevise)
	assert.NotEmpty(t, body.Agents["compliance"].Capabilities.SupportedOperations)

	// workload counters reflect the processed request
	assert.Equal(t, int64(1), body.Agents["compliance"].Requests)
	assert.Positive(t, body.Agents["compliance"].AvgLatencyMS)
	assert.Zero(t, body.Agents["negotiation"].Requests)
}

func TestNegotiationEndpoint(t *testing.T) {
	server, integration := newTestServer(t, "")

	rec := doJSON(t, server.Router(), http.MethodPost, "/agent/negotiation", map[string]interface{}{
		"vendor":              "Acme",
		"target_discount_pct": 30,
		"category":            "software",
		"session_id":          "session-http",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusRevised, body.ComplianceStatus)
	assert.Contains(t, body.AgentResponse, "Target Discount: 25%")
	assert.NotEmpty(t, body.PolicyViolations)
	assert.NotEmpty(t, body.RequestID)
	assert.Positive(t, body.ContextUsage.TotalTokens)

	assert.Equal(t, int64(1), integration.Metrics().TotalWorkflows)
}

func TestAgentEndpointPropagatesRequestID(t *testing.T) {
	server, _ := newTestServer(t, "")

	raw, err := json.Marshal(map[string]interface{}{
		"clause": "Payment is due within 30 days of invoice receipt.",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/agent/compliance", bytes.NewReader(raw))
	req.Header.Set("X-Request-ID", "trace-me-123")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-me-123", rec.Header().Get("X-Request-ID"))

	var body AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "trace-me-123", body.RequestID)
}

func TestAgentEndpointValidationError(t *testing.T) {
	server, _ := newTestServer(t, "")

	rec := doJSON(t, server.Router(), http.MethodPost, "/agent/negotiation", map[string]interface{}{
		"category": "software",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
	details, ok := body.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "vendor", details["field"])
}

func TestAgentEndpointMalformedBody(t *testing.T) {
	server, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/agent/forecast", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
}

func TestPolicySummaryEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")

	rec := doJSON(t, server.Router(), http.MethodGet, "/policy/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body PolicySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, defaultProhibitedClauses, body.ProhibitedClauses)
	assert.Equal(t, 5, body.ComplianceRuleCount)
}

func TestIntegrationEndpoints(t *testing.T) {
	server, _ := newTestServer(t, "")
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/agent/compliance", map[string]interface{}{
		"clause": "Payment is due within 30 days of invoice receipt.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("metrics", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/integration/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var metrics IntegrationMetrics
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
		assert.Equal(t, int64(1), metrics.TotalWorkflows)
	})

	t.Run("recent", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/integration/recent?limit=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Workflows []WorkflowRecord `json:"workflows"`
			Limit     int              `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 5, body.Limit)
		assert.Len(t, body.Workflows, 1)
	})

	t.Run("recent with invalid limit", func(t *testing.T) {
		assert.Equal(t, http.StatusUnprocessableEntity,
			doJSON(t, router, http.MethodGet, "/integration/recent?limit=abc", nil).Code)
		assert.Equal(t, http.StatusUnprocessableEntity,
			doJSON(t, router, http.MethodGet, "/integration/recent?limit=0", nil).Code)
	})

	t.Run("compliance report", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/integration/compliance-report?hours=48", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var report ComplianceReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 48, report.WindowHours)
		assert.Equal(t, 1, report.WorkflowsInWindow)
		assert.Equal(t, 100.0, report.StatusPercentages[StatusCompliant])
	})

	t.Run("compliance report with invalid hours", func(t *testing.T) {
		assert.Equal(t, http.StatusUnprocessableEntity,
			doJSON(t, router, http.MethodGet, "/integration/compliance-report?hours=zero", nil).Code)
	})
}

func TestBatchEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")
	router := server.Router()

	t.Run("mixed outcomes", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/integration/batch", map[string]interface{}{
			"requests": []map[string]interface{}{
				{
					"agent_type": "compliance",
					"compliance": map[string]interface{}{
						"clause": "Payment is due within 30 days of invoice receipt.",
					},
				},
				{
					"agent_type": "mystery",
				},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Total     int               `json:"total"`
			Succeeded int               `json:"succeeded"`
			Failed    int               `json:"failed"`
			Results   []batchItemResult `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Total)
		assert.Equal(t, 1, body.Succeeded)
		assert.Equal(t, 1, body.Failed)
		require.Len(t, body.Results, 2)
		assert.True(t, body.Results[0].Success)
		require.NotNil(t, body.Results[0].Response)
		assert.False(t, body.Results[1].Success)
		assert.Contains(t, body.Results[1].Error, "unknown agent type")
	})

	t.Run("empty request list", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/integration/batch", map[string]interface{}{
			"requests": []map[string]interface{}{},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestResetMetricsGuarded(t *testing.T) {
	const secret = "test-admin-secret"
	server, integration := newTestServer(t, secret)
	router := server.Router()

	integration.Record(sampleWorkflowResult(StatusCompliant, 10))

	t.Run("missing token", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/integration/reset-metrics", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, int64(1), integration.Metrics().TotalWorkflows)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "admin",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/integration/reset-metrics", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, integration.Metrics().TotalWorkflows)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/agent/compliance", map[string]interface{}{
		"clause": "Payment is due within 30 days of invoice receipt.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "procuresense_workflows_total")
	assert.Contains(t, rec.Body.String(), "procuresense_context_tokens_total")
}
