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
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	auditQueueCapacity = 10000
	auditBatchSize     = 100
	auditFlushInterval = 5 * time.Second
)

// AuditEntry is one persisted workflow audit record.
type AuditEntry struct {
	ID               string            `json:"id"`
	RequestID        string            `json:"request_id"`
	SessionID        string            `json:"session_id"`
	AgentKind        AgentKind         `json:"agent_type"`
	ComplianceStatus ComplianceStatus  `json:"compliance_status"`
	Violations       []PolicyViolation `json:"violations"`
	RevisionNotes    []string          `json:"revision_notes"`
	TotalTokens      int               `json:"total_tokens"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// AuditLog writes workflow outcomes to PostgreSQL through a buffered queue
// so that audit persistence never blocks the request path. With no database
// configured it degrades to a no-op.
type AuditLog struct {
	db           *sql.DB
	queue        chan *AuditEntry
	wg           sync.WaitGroup
	shutdownChan chan struct{}
}

// NewAuditLog connects to the audit database and starts the background
// writer. A connection failure yields a no-op log rather than failing boot.
func NewAuditLog(databaseURL string) *AuditLog {
	if databaseURL == "" {
		return &AuditLog{
			queue:        make(chan *AuditEntry, auditQueueCapacity),
			shutdownChan: make(chan struct{}),
		}
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Printf("Failed to connect to audit database: %v", err)
		return &AuditLog{
			queue:        make(chan *AuditEntry, auditQueueCapacity),
			shutdownChan: make(chan struct{}),
		}
	}

	if err := createAuditTable(db); err != nil {
		log.Printf("Failed to create audit table: %v", err)
	}

	return newAuditLogWithDB(db)
}

// NewAuditLogWithDB wraps an existing database handle (enables testing).
// The table is assumed to exist.
func NewAuditLogWithDB(db *sql.DB) *AuditLog {
	return newAuditLogWithDB(db)
}

func newAuditLogWithDB(db *sql.DB) *AuditLog {
	a := &AuditLog{
		db:           db,
		queue:        make(chan *AuditEntry, auditQueueCapacity),
		shutdownChan: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.processQueue()
	return a
}

// RecordWorkflow enqueues an audit entry for a completed workflow.
func (a *AuditLog) RecordWorkflow(result *WorkflowResult) {
	a.enqueue(&AuditEntry{
		ID:               fmt.Sprintf("audit_%d_%s", time.Now().UnixNano(), result.RequestID),
		RequestID:        result.RequestID,
		SessionID:        result.SessionID,
		AgentKind:        result.AgentKind,
		ComplianceStatus: result.ComplianceStatus,
		Violations:       result.Violations,
		RevisionNotes:    result.RevisionNotes,
		TotalTokens:      result.Usage.TotalTokens,
		ProcessingTimeMS: result.TotalTimeMS,
		Timestamp:        result.Timestamp,
	})
}

// RecordFailure enqueues an audit entry for a workflow that errored.
func (a *AuditLog) RecordFailure(requestID, sessionID string, kind AgentKind, err error) {
	a.enqueue(&AuditEntry{
		ID:               fmt.Sprintf("audit_%d_%s", time.Now().UnixNano(), requestID),
		RequestID:        requestID,
		SessionID:        sessionID,
		AgentKind:        kind,
		ComplianceStatus: StatusError,
		ErrorMessage:     err.Error(),
		Timestamp:        time.Now().UTC(),
	})
}

// IsHealthy reports whether the audit database is reachable. A no-op log is
// always healthy.
func (a *AuditLog) IsHealthy() bool {
	if a.db == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return a.db.PingContext(ctx) == nil
}

// Close flushes the queue and releases the database connection.
func (a *AuditLog) Close() error {
	if a.db == nil {
		return nil
	}
	close(a.shutdownChan)
	a.wg.Wait()
	return a.db.Close()
}

func (a *AuditLog) enqueue(entry *AuditEntry) {
	if a.db == nil {
		return
	}
	select {
	case a.queue <- entry:
	default:
		log.Printf("Audit queue full, writing directly")
		a.writeBatch([]*AuditEntry{entry})
	}
}

func (a *AuditLog) processQueue() {
	defer a.wg.Done()

	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, auditBatchSize)
	flush := func() {
		if len(batch) > 0 {
			a.writeBatch(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry := <-a.queue:
			batch = append(batch, entry)
			if len(batch) >= auditBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.shutdownChan:
			for {
				select {
				case entry := <-a.queue:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *AuditLog) writeBatch(entries []*AuditEntry) {
	tx, err := a.db.Begin()
	if err != nil {
		log.Printf("Failed to begin audit transaction: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO procurement_audit_log (
			id, request_id, session_id, agent_type, compliance_status,
			violations, revision_notes, total_tokens, processing_time_ms,
			error_message, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		log.Printf("Failed to prepare audit insert: %v", err)
		return
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		violationsJSON, _ := json.Marshal(entry.Violations)
		notesJSON, _ := json.Marshal(entry.RevisionNotes)

		if _, err := stmt.Exec(
			entry.ID,
			entry.RequestID,
			entry.SessionID,
			string(entry.AgentKind),
			string(entry.ComplianceStatus),
			violationsJSON,
			notesJSON,
			entry.TotalTokens,
			entry.ProcessingTimeMS,
			entry.ErrorMessage,
			entry.Timestamp,
		); err != nil {
			log.Printf("Failed to insert audit entry: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("Failed to commit audit batch: %v", err)
	}
}

func createAuditTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS procurement_audit_log (
		id VARCHAR(255) PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		session_id VARCHAR(255) NOT NULL,
		agent_type VARCHAR(50) NOT NULL,
		compliance_status VARCHAR(50) NOT NULL,
		violations JSONB,
		revision_notes JSONB,
		total_tokens INTEGER,
		processing_time_ms DOUBLE PRECISION,
		error_message TEXT,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_procurement_audit_timestamp ON procurement_audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_procurement_audit_request_id ON procurement_audit_log(request_id);
	CREATE INDEX IF NOT EXISTS idx_procurement_audit_status ON procurement_audit_log(compliance_status);
	`
	_, err := db.Exec(query)
	return err
}
