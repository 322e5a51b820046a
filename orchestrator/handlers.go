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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"procuresense/platform/shared/logger"
)

// AgentResponse is the HTTP response body for agent endpoints.
type AgentResponse struct {
	AgentResponse    string            `json:"agent_response"`
	ComplianceStatus ComplianceStatus  `json:"compliance_status"`
	PolicyViolations []PolicyViolation `json:"policy_violations"`
	Recommendations  []string          `json:"recommendations"`
	ConfidenceScore  float64           `json:"confidence_score"`
	ContextUsage     ContextUsage      `json:"context_usage"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	RequestID        string            `json:"request_id"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server is the HTTP surface of the orchestration service.
type Server struct {
	engine      *WorkflowEngine
	integration *IntegrationManager
	store       *PolicyStore
	audit       *AuditLog
	guard       *adminGuard
	log         *logger.Logger
	startedAt   time.Time
}

// NewServer wires the HTTP layer to the workflow components.
func NewServer(engine *WorkflowEngine, integration *IntegrationManager, store *PolicyStore, audit *AuditLog, guard *adminGuard, log *logger.Logger) *Server {
	return &Server{
		engine:      engine,
		integration: integration,
		store:       store,
		audit:       audit,
		guard:       guard,
		log:         log,
		startedAt:   time.Now().UTC(),
	}
}

// Router builds the full route table with the tracing middleware applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status/agents", s.handleAgentStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/agent/negotiation", s.handleAgent(AgentNegotiation)).Methods("POST")
	r.HandleFunc("/agent/compliance", s.handleAgent(AgentCompliance)).Methods("POST")
	r.HandleFunc("/agent/forecast", s.handleAgent(AgentForecast)).Methods("POST")

	r.HandleFunc("/policy/summary", s.handlePolicySummary).Methods("GET")

	r.HandleFunc("/integration/metrics", s.handleIntegrationMetrics).Methods("GET")
	r.HandleFunc("/integration/recent", s.handleRecentWorkflows).Methods("GET")
	r.HandleFunc("/integration/compliance-report", s.handleComplianceReport).Methods("GET")
	r.HandleFunc("/integration/batch", s.handleBatch).Methods("POST")
	r.HandleFunc("/integration/reset-metrics", s.guard.middleware(s.handleResetMetrics)).Methods("POST")

	return s.tracingMiddleware(r)
}

// tracingMiddleware attaches the request ID and process time headers to
// every response and feeds the request duration histogram.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		sw := &statusWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(sw, r)

		promRequestDuration.WithLabelValues(r.URL.Path).Observe(msSince(start))
	})
}

// statusWriter defers the X-Process-Time header until the response is
// committed so the measurement covers handler time.
type statusWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		elapsed := time.Since(w.start).Seconds()
		w.Header().Set("X-Process-Time", strconv.FormatFloat(elapsed, 'f', 6, 64))
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Agent request bodies flatten the payload fields alongside the session
// envelope, so a negotiation request posts vendor and discount at the top
// level.

type negotiationRequestBody struct {
	NegotiationPayload
	SessionID   string         `json:"session_id,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	UserContext string         `json:"user_context,omitempty"`
	Ephemeral   *EphemeralData `json:"ephemeral_context,omitempty"`
}

type complianceRequestBody struct {
	CompliancePayload
	SessionID   string         `json:"session_id,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	UserContext string         `json:"user_context,omitempty"`
	Ephemeral   *EphemeralData `json:"ephemeral_context,omitempty"`
}

type forecastRequestBody struct {
	ForecastPayload
	SessionID   string         `json:"session_id,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	UserContext string         `json:"user_context,omitempty"`
	Ephemeral   *EphemeralData `json:"ephemeral_context,omitempty"`
}

func (s *Server) handleAgent(kind AgentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeAgentRequest(kind, r)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
			return
		}
		s.executeAndRespond(w, r, req)
	}
}

func decodeAgentRequest(kind AgentKind, r *http.Request) (*AgentRequest, error) {
	decoder := json.NewDecoder(r.Body)

	req := &AgentRequest{Kind: kind, RequestID: requestIDFrom(r.Context())}

	switch kind {
	case AgentNegotiation:
		var body negotiationRequestBody
		if err := decoder.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		req.Negotiation = &body.NegotiationPayload
		applyEnvelope(req, body.SessionID, body.Priority, body.UserContext, body.Ephemeral)
	case AgentCompliance:
		var body complianceRequestBody
		if err := decoder.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		req.Compliance = &body.CompliancePayload
		applyEnvelope(req, body.SessionID, body.Priority, body.UserContext, body.Ephemeral)
	case AgentForecast:
		var body forecastRequestBody
		if err := decoder.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		req.Forecast = &body.ForecastPayload
		applyEnvelope(req, body.SessionID, body.Priority, body.UserContext, body.Ephemeral)
	default:
		return nil, fmt.Errorf("unknown agent type: %q", kind)
	}
	return req, nil
}

func applyEnvelope(req *AgentRequest, sessionID string, priority Priority, userContext string, ephemeral *EphemeralData) {
	req.SessionID = sessionID
	req.Priority = priority
	req.UserContext = userContext
	if ephemeral != nil {
		req.Ephemeral = *ephemeral
	}
}

func (s *Server) executeAndRespond(w http.ResponseWriter, r *http.Request, req *AgentRequest) {
	result, err := s.engine.Execute(r.Context(), req)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			writeError(w, r, http.StatusUnprocessableEntity, "validation_error", ve.Message, map[string]string{"field": ve.Field})
			return
		}
		if s.audit != nil {
			s.audit.RecordFailure(req.RequestID, req.SessionID, req.Kind, err)
		}
		writeError(w, r, http.StatusInternalServerError, "processing_error", "agent processing failed", err.Error())
		return
	}

	observeWorkflowMetrics(result)
	if s.audit != nil {
		s.audit.RecordWorkflow(result)
	}

	writeJSON(w, http.StatusOK, AgentResponse{
		AgentResponse:    result.Response,
		ComplianceStatus: result.ComplianceStatus,
		PolicyViolations: result.Violations,
		Recommendations:  result.Recommendations,
		ConfidenceScore:  result.Confidence,
		ContextUsage:     result.Usage,
		ProcessingTimeMS: result.TotalTimeMS,
		RequestID:        result.RequestID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	agents := make([]string, 0, len(s.engine.Agents()))
	for kind := range s.engine.Agents() {
		agents = append(agents, string(kind))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"agents":         agents,
		"audit_healthy":  s.audit == nil || s.audit.IsHealthy(),
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// agentStatusEntry pairs an agent's static capabilities with its observed
// workload.
type agentStatusEntry struct {
	Capabilities AgentCapabilities `json:"capabilities"`
	Requests     int64             `json:"requests"`
	AvgLatencyMS float64           `json:"avg_latency_ms"`
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	activity := s.integration.AgentActivitySnapshot()
	agents := make(map[AgentKind]agentStatusEntry, len(s.engine.Agents()))
	for kind, agent := range s.engine.Agents() {
		agents[kind] = agentStatusEntry{
			Capabilities: agent.Capabilities(),
			Requests:     activity[kind].Requests,
			AvgLatencyMS: activity[kind].AvgLatencyMS,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":    agents,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePolicySummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Summary())
}

func (s *Server) handleIntegrationMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.integration.Metrics())
}

func (s *Server) handleRecentWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusUnprocessableEntity, "validation_error", fmt.Sprintf("invalid limit: %q", raw), nil)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": s.integration.Recent(limit),
		"limit":     limit,
	})
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusUnprocessableEntity, "validation_error", fmt.Sprintf("invalid hours: %q", raw), nil)
			return
		}
		hours = parsed
	}
	writeJSON(w, http.StatusOK, s.integration.Report(hours))
}

func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	s.integration.Reset()
	if s.log != nil {
		s.log.Info("", requestIDFrom(r.Context()), "integration metrics reset", nil)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// batchRequestBody carries multiple agent requests in envelope form, each
// naming its agent type and payload explicitly.
type batchRequestBody struct {
	Requests []AgentRequest `json:"requests"`
}

type batchItemResult struct {
	Index    int            `json:"index"`
	Success  bool           `json:"success"`
	Response *AgentResponse `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "validation_error", fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}
	if len(body.Requests) == 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "validation_error", "requests must be a non-empty list", nil)
		return
	}

	results := make([]batchItemResult, 0, len(body.Requests))
	succeeded := 0
	for i := range body.Requests {
		req := &body.Requests[i]
		result, err := s.engine.Execute(r.Context(), req)
		if err != nil {
			results = append(results, batchItemResult{Index: i, Success: false, Error: err.Error()})
			continue
		}
		observeWorkflowMetrics(result)
		if s.audit != nil {
			s.audit.RecordWorkflow(result)
		}
		succeeded++
		results = append(results, batchItemResult{
			Index:   i,
			Success: true,
			Response: &AgentResponse{
				AgentResponse:    result.Response,
				ComplianceStatus: result.ComplianceStatus,
				PolicyViolations: result.Violations,
				Recommendations:  result.Recommendations,
				ConfidenceScore:  result.Confidence,
				ContextUsage:     result.Usage,
				ProcessingTimeMS: result.TotalTimeMS,
				RequestID:        result.RequestID,
			},
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     len(body.Requests),
		"succeeded": succeeded,
		"failed":    len(body.Requests) - succeeded,
		"results":   results,
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errorCode, message string, details interface{}) {
	writeJSON(w, status, errorResponse{
		Error:     errorCode,
		Message:   message,
		Details:   details,
		RequestID: requestIDFrom(r.Context()),
	})
}
