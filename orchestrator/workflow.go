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
	"time"

	"github.com/google/uuid"

	"procuresense/platform/shared/logger"
)

// defaultModelCallTimeout bounds the agent and critic model calls for one
// workflow execution.
const defaultModelCallTimeout = 30 * time.Second

// WorkflowResult is the full outcome of one agent workflow execution.
type WorkflowResult struct {
	RequestID        string            `json:"request_id"`
	SessionID        string            `json:"session_id"`
	AgentKind        AgentKind         `json:"agent_type"`
	Response         string            `json:"agent_response"`
	RawResponse      string            `json:"-"`
	ComplianceStatus ComplianceStatus  `json:"compliance_status"`
	Violations       []PolicyViolation `json:"policy_violations"`
	RevisionNotes    []string          `json:"revision_notes,omitempty"`
	Recommendations  []string          `json:"recommendations"`
	Confidence       float64           `json:"confidence_score"`
	Usage            ContextUsage      `json:"context_usage"`
	AgentTimeMS      float64           `json:"agent_time_ms"`
	CriticTimeMS     float64           `json:"critic_time_ms"`
	TotalTimeMS      float64           `json:"processing_time_ms"`
	Success          bool              `json:"success"`
	Timestamp        time.Time         `json:"timestamp"`
}

// WorkflowEngine runs the full request lifecycle: session recall, context
// assembly, agent processing, critic review, and session persistence.
type WorkflowEngine struct {
	agents      map[AgentKind]Agent
	assembler   *ContextAssembler
	critic      *GlobalPolicyCritic
	sessions    SessionStore
	integration *IntegrationManager
	timeout     time.Duration
	log         *logger.Logger
}

// NewWorkflowEngine wires the workflow components together.
func NewWorkflowEngine(agents []Agent, assembler *ContextAssembler, critic *GlobalPolicyCritic, sessions SessionStore, integration *IntegrationManager, log *logger.Logger) *WorkflowEngine {
	byKind := make(map[AgentKind]Agent, len(agents))
	for _, agent := range agents {
		byKind[agent.Kind()] = agent
	}
	return &WorkflowEngine{
		agents:      byKind,
		assembler:   assembler,
		critic:      critic,
		sessions:    sessions,
		integration: integration,
		timeout:     defaultModelCallTimeout,
		log:         log,
	}
}

// SetTimeout overrides the model call deadline.
func (e *WorkflowEngine) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Agents returns the registered agents keyed by kind.
func (e *WorkflowEngine) Agents() map[AgentKind]Agent {
	return e.agents
}

// Execute runs one agent request through the full workflow. Validation
// failures return a *ValidationError; processing failures return the error
// after recording the failed workflow.
func (e *WorkflowEngine) Execute(ctx context.Context, req *AgentRequest) (*WorkflowResult, error) {
	start := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	agent, ok := e.agents[req.Kind]
	if !ok {
		return nil, NewValidationError("agent_type", fmt.Sprintf("unknown agent type: %q", req.Kind))
	}
	if err := agent.Validate(req); err != nil {
		return nil, err
	}

	session := e.loadSession(ctx, req)
	assembled := e.assembler.Assemble(req.SessionID, req.Category(), session, req.Ephemeral)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	agentStart := time.Now()
	artifact, err := agent.Process(callCtx, req, &assembled.Context)
	agentTime := msSince(agentStart)
	if err != nil {
		if e.integration != nil {
			e.integration.RecordFailure(req.Kind)
		}
		if e.log != nil {
			e.log.Error(req.SessionID, req.RequestID, "agent processing failed", map[string]interface{}{
				"agent_type": string(req.Kind),
				"error":      err.Error(),
			})
		}
		return &WorkflowResult{
			RequestID:        req.RequestID,
			SessionID:        req.SessionID,
			AgentKind:        req.Kind,
			ComplianceStatus: StatusError,
			Violations:       []PolicyViolation{},
			Recommendations:  []string{},
			Usage:            assembled.Usage,
			AgentTimeMS:      agentTime,
			TotalTimeMS:      msSince(start),
			Success:          false,
			Timestamp:        time.Now().UTC(),
		}, fmt.Errorf("agent %s failed: %w", req.Kind, err)
	}

	criticStart := time.Now()
	criticResult := e.critic.ValidateOutput(callCtx, artifact.Response, validationRequest(req), &assembled.Context)
	criticTime := msSince(criticStart)

	result := &WorkflowResult{
		RequestID:        req.RequestID,
		SessionID:        req.SessionID,
		AgentKind:        req.Kind,
		Response:         criticResult.FinalText(),
		RawResponse:      artifact.Response,
		ComplianceStatus: criticResult.Status(),
		Violations:       criticResult.Violations,
		RevisionNotes:    criticResult.RevisionNotes,
		Recommendations:  artifact.Recommendations,
		Confidence:       artifact.Confidence,
		Usage:            assembled.Usage,
		AgentTimeMS:      agentTime,
		CriticTimeMS:     criticTime,
		TotalTimeMS:      msSince(start),
		Success:          true,
		Timestamp:        time.Now().UTC(),
	}

	e.saveSession(ctx, req, session, result)

	if e.integration != nil {
		e.integration.Record(result)
	}

	if e.log != nil {
		e.log.InfoWithDuration(req.SessionID, req.RequestID, "workflow completed", result.TotalTimeMS, map[string]interface{}{
			"agent_type":        string(req.Kind),
			"compliance_status": string(result.ComplianceStatus),
			"violations":        len(result.Violations),
			"total_tokens":      result.Usage.TotalTokens,
		})
	}

	return result, nil
}

// loadSession recalls conversation history. Store failures degrade to an
// empty session rather than failing the request.
func (e *WorkflowEngine) loadSession(ctx context.Context, req *AgentRequest) SessionData {
	if e.sessions == nil {
		return SessionData{}
	}
	session, err := e.sessions.Load(ctx, req.SessionID)
	if err != nil {
		if e.log != nil {
			e.log.Warn(req.SessionID, req.RequestID, "failed to load session, continuing with empty history", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return SessionData{}
	}
	return session
}

// saveSession appends the turn summary to the conversation history.
func (e *WorkflowEngine) saveSession(ctx context.Context, req *AgentRequest, session SessionData, result *WorkflowResult) {
	if e.sessions == nil {
		return
	}

	turn := fmt.Sprintf("%s request for %s (%s)", req.Kind, req.Category(), result.ComplianceStatus)
	if req.Category() == "" {
		turn = fmt.Sprintf("%s request (%s)", req.Kind, result.ComplianceStatus)
	}
	session.ConversationTurns = append(session.ConversationTurns, turn)

	for _, note := range result.RevisionNotes {
		session.SessionFindings = append(session.SessionFindings, "Revision applied: "+note)
	}

	if err := e.sessions.Save(ctx, req.SessionID, session); err != nil && e.log != nil {
		e.log.Warn(req.SessionID, req.RequestID, "failed to persist session", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// validationRequest extracts the critic-relevant request fields.
func validationRequest(req *AgentRequest) ValidationRequest {
	vr := ValidationRequest{Category: req.Category()}
	if req.Negotiation != nil {
		discount := req.Negotiation.TargetDiscountPct
		vr.TargetDiscount = &discount
	}
	return vr
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
