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
	"sync"
	"time"
)

// recentWorkflowCapacity bounds the rolling buffer of recent workflows.
const recentWorkflowCapacity = 100

// WorkflowRecord is the compact per-workflow entry kept in the rolling
// buffer.
type WorkflowRecord struct {
	RequestID        string           `json:"request_id"`
	SessionID        string           `json:"session_id"`
	AgentKind        AgentKind        `json:"agent_type"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	ViolationCount   int              `json:"violation_count"`
	AutoRevised      bool             `json:"auto_revised"`
	ProcessingTimeMS float64          `json:"processing_time_ms"`
	TotalTokens      int              `json:"total_tokens"`
	Timestamp        time.Time        `json:"timestamp"`
}

// IntegrationMetrics is the aggregate metrics snapshot.
type IntegrationMetrics struct {
	TotalWorkflows      int64               `json:"total_workflows"`
	SuccessfulWorkflows int64               `json:"successful_workflows"`
	FailedWorkflows     int64               `json:"failed_workflows"`
	TotalViolations     int64               `json:"total_violations"`
	AutoRevisions       int64               `json:"auto_revisions"`
	ManualReviews       int64               `json:"manual_reviews"`
	WorkflowsByAgent    map[AgentKind]int64 `json:"workflows_by_agent"`
	AvgProcessingMS     float64             `json:"avg_processing_time_ms"`
	AvgAgentMS          float64             `json:"avg_agent_time_ms"`
	AvgCriticMS         float64             `json:"avg_critic_time_ms"`
	TotalTokens         int64               `json:"total_tokens"`
	PolicyTokens        int64               `json:"gpc_tokens"`
	DomainTokens        int64               `json:"dsc_tokens"`
	SuccessRate         float64             `json:"success_rate"`
	StartedAt           time.Time           `json:"started_at"`
}

// ComplianceReport summarizes compliance outcomes over a trailing window.
// StatusPercentages holds each status share of the window as a percentage
// (0-100, two decimals).
type ComplianceReport struct {
	WindowHours         int                          `json:"window_hours"`
	WorkflowsInWindow   int                          `json:"workflows_in_window"`
	StatusCounts        map[ComplianceStatus]int     `json:"status_counts"`
	StatusPercentages   map[ComplianceStatus]float64 `json:"status_percentages"`
	TotalViolations     int                          `json:"total_violations"`
	AutoRevisions       int                          `json:"auto_revisions"`
	RevisionSuccessRate float64                      `json:"revision_success_rate"`
	GeneratedAt         time.Time                    `json:"generated_at"`
}

// AgentActivity is the per-agent workload snapshot served by the agent
// status endpoint.
type AgentActivity struct {
	Requests     int64   `json:"requests"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// IntegrationManager aggregates workflow outcomes for operational
// visibility. All state sits behind a single mutex; successful workflows
// update every aggregate, failed workflows only the total and failure
// counters.
type IntegrationManager struct {
	mu sync.Mutex

	totalWorkflows      int64
	successfulWorkflows int64
	failedWorkflows     int64
	totalViolations     int64
	autoRevisions       int64
	manualReviews       int64
	workflowsByAgent    map[AgentKind]int64
	avgLatencyByAgent   map[AgentKind]float64

	avgProcessingMS float64
	avgAgentMS      float64
	avgCriticMS     float64

	totalTokens  int64
	policyTokens int64
	domainTokens int64

	recent    []WorkflowRecord
	startedAt time.Time
}

// NewIntegrationManager creates an empty manager.
func NewIntegrationManager() *IntegrationManager {
	return &IntegrationManager{
		workflowsByAgent:  make(map[AgentKind]int64),
		avgLatencyByAgent: make(map[AgentKind]float64),
		recent:            make([]WorkflowRecord, 0, recentWorkflowCapacity),
		startedAt:         time.Now().UTC(),
	}
}

// Record folds a completed workflow into the aggregates and the rolling
// buffer.
func (m *IntegrationManager) Record(result *WorkflowResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalWorkflows++
	m.successfulWorkflows++
	m.workflowsByAgent[result.AgentKind]++
	m.totalViolations += int64(len(result.Violations))

	switch result.ComplianceStatus {
	case StatusRevised:
		m.autoRevisions++
	case StatusFlagged:
		m.manualReviews++
	}

	k := float64(m.successfulWorkflows)
	m.avgProcessingMS = runningAverage(m.avgProcessingMS, result.TotalTimeMS, k)
	m.avgAgentMS = runningAverage(m.avgAgentMS, result.AgentTimeMS, k)
	m.avgCriticMS = runningAverage(m.avgCriticMS, result.CriticTimeMS, k)

	ka := float64(m.workflowsByAgent[result.AgentKind])
	m.avgLatencyByAgent[result.AgentKind] = runningAverage(m.avgLatencyByAgent[result.AgentKind], result.TotalTimeMS, ka)

	m.totalTokens += int64(result.Usage.TotalTokens)
	m.policyTokens += int64(result.Usage.PolicyTokens)
	m.domainTokens += int64(result.Usage.DomainTokens)

	m.appendRecent(WorkflowRecord{
		RequestID:        result.RequestID,
		SessionID:        result.SessionID,
		AgentKind:        result.AgentKind,
		ComplianceStatus: result.ComplianceStatus,
		ViolationCount:   len(result.Violations),
		AutoRevised:      result.ComplianceStatus == StatusRevised,
		ProcessingTimeMS: result.TotalTimeMS,
		TotalTokens:      result.Usage.TotalTokens,
		Timestamp:        result.Timestamp,
	})
}

// RecordFailure counts a workflow that errored before producing a result.
func (m *IntegrationManager) RecordFailure(kind AgentKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalWorkflows++
	m.failedWorkflows++
}

// runningAverage folds the k-th sample into the running mean.
func runningAverage(avg, sample, k float64) float64 {
	return ((avg * (k - 1)) + sample) / k
}

func (m *IntegrationManager) appendRecent(record WorkflowRecord) {
	if len(m.recent) >= recentWorkflowCapacity {
		m.recent = m.recent[1:]
	}
	m.recent = append(m.recent, record)
}

// Metrics returns a point-in-time snapshot of the aggregates.
func (m *IntegrationManager) Metrics() IntegrationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAgent := make(map[AgentKind]int64, len(m.workflowsByAgent))
	for kind, count := range m.workflowsByAgent {
		byAgent[kind] = count
	}

	successRate := 0.0
	if m.totalWorkflows > 0 {
		successRate = float64(m.successfulWorkflows) / float64(m.totalWorkflows)
	}

	return IntegrationMetrics{
		TotalWorkflows:      m.totalWorkflows,
		SuccessfulWorkflows: m.successfulWorkflows,
		FailedWorkflows:     m.failedWorkflows,
		TotalViolations:     m.totalViolations,
		AutoRevisions:       m.autoRevisions,
		ManualReviews:       m.manualReviews,
		WorkflowsByAgent:    byAgent,
		AvgProcessingMS:     m.avgProcessingMS,
		AvgAgentMS:          m.avgAgentMS,
		AvgCriticMS:         m.avgCriticMS,
		TotalTokens:         m.totalTokens,
		PolicyTokens:        m.policyTokens,
		DomainTokens:        m.domainTokens,
		SuccessRate:         successRate,
		StartedAt:           m.startedAt,
	}
}

// AgentActivitySnapshot returns per-agent request counts and average
// end-to-end latency.
func (m *IntegrationManager) AgentActivitySnapshot() map[AgentKind]AgentActivity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[AgentKind]AgentActivity, len(m.workflowsByAgent))
	for kind, count := range m.workflowsByAgent {
		out[kind] = AgentActivity{
			Requests:     count,
			AvgLatencyMS: m.avgLatencyByAgent[kind],
		}
	}
	return out
}

// Recent returns the most recent workflow records, newest last, capped at
// limit. A non-positive limit returns the whole buffer.
func (m *IntegrationManager) Recent(limit int) []WorkflowRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.recent
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]WorkflowRecord, len(records))
	copy(out, records)
	return out
}

// Report builds a compliance report over the trailing window of the given
// number of hours from the rolling buffer.
func (m *IntegrationManager) Report(hours int) ComplianceReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	statusCounts := map[ComplianceStatus]int{}
	inWindow := 0
	violations := 0
	revisions := 0
	for _, record := range m.recent {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		inWindow++
		statusCounts[record.ComplianceStatus]++
		violations += record.ViolationCount
		if record.AutoRevised {
			revisions++
		}
	}

	denominator := violations
	if denominator < 1 {
		denominator = 1
	}

	statusPercentages := make(map[ComplianceStatus]float64, len(statusCounts))
	if inWindow > 0 {
		for status, count := range statusCounts {
			pct := float64(count) / float64(inWindow) * 100
			statusPercentages[status] = math.Round(pct*100) / 100
		}
	}

	return ComplianceReport{
		WindowHours:         hours,
		WorkflowsInWindow:   inWindow,
		StatusCounts:        statusCounts,
		StatusPercentages:   statusPercentages,
		TotalViolations:     violations,
		AutoRevisions:       revisions,
		RevisionSuccessRate: float64(revisions) / float64(denominator),
		GeneratedAt:         time.Now().UTC(),
	}
}

// Reset clears every aggregate and the rolling buffer.
func (m *IntegrationManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalWorkflows = 0
	m.successfulWorkflows = 0
	m.failedWorkflows = 0
	m.totalViolations = 0
	m.autoRevisions = 0
	m.manualReviews = 0
	m.workflowsByAgent = make(map[AgentKind]int64)
	m.avgLatencyByAgent = make(map[AgentKind]float64)
	m.avgProcessingMS = 0
	m.avgAgentMS = 0
	m.avgCriticMS = 0
	m.totalTokens = 0
	m.policyTokens = 0
	m.domainTokens = 0
	m.recent = m.recent[:0]
	m.startedAt = time.Now().UTC()
}
