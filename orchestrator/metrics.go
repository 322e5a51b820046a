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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promWorkflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procuresense_workflows_total",
			Help: "Total number of agent workflows processed",
		},
		[]string{"agent", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procuresense_request_duration_milliseconds",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"endpoint"},
	)
	promViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procuresense_policy_violations_total",
			Help: "Total number of policy violations detected by the critic",
		},
	)
	promAutoRevisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "procuresense_auto_revisions_total",
			Help: "Total number of automatically revised agent outputs",
		},
	)
	promContextTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procuresense_context_tokens_total",
			Help: "Total context tokens assembled, by layer",
		},
		[]string{"layer"},
	)
)

func init() {
	prometheus.MustRegister(promWorkflowsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promViolationsTotal)
	prometheus.MustRegister(promAutoRevisionsTotal)
	prometheus.MustRegister(promContextTokens)
}

// observeWorkflowMetrics folds one completed workflow into the Prometheus
// counters.
func observeWorkflowMetrics(result *WorkflowResult) {
	promWorkflowsTotal.WithLabelValues(string(result.AgentKind), string(result.ComplianceStatus)).Inc()
	promViolationsTotal.Add(float64(len(result.Violations)))
	if result.ComplianceStatus == StatusRevised {
		promAutoRevisionsTotal.Inc()
	}
	promContextTokens.WithLabelValues("policy").Add(float64(result.Usage.PolicyTokens))
	promContextTokens.WithLabelValues("domain").Add(float64(result.Usage.DomainTokens))
	promContextTokens.WithLabelValues("session").Add(float64(result.Usage.SessionTokens))
	promContextTokens.WithLabelValues("ephemeral").Add(float64(result.Usage.EphemeralTokens))
}
