// Package audit records a JSONL trail of tenant-scoped actions against
// rollup configs and executions, the same append-only log shape the
// teacher used for commit-hook override tracking, generalized to a
// typed event taxonomy.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/models"
)

// EventType names an auditable action against a RollupConfig or
// RollupExecution.
type EventType string

const (
	EventRollupCreated   EventType = "rollup_created"
	EventRollupUpdated   EventType = "rollup_updated"
	EventRollupArchived  EventType = "rollup_archived"
	EventRollupDeleted   EventType = "rollup_deleted"
	EventExecutionRun    EventType = "execution_run"
	EventExecutionFailed EventType = "execution_failed"
	EventBlastRadiusRead EventType = "blast_radius_query"
)

// Event is one append-only audit record. Severity mirrors the acting
// error's severity when the event was raised in response to a
// failure, or SeverityLow for routine actions.
type Event struct {
	Timestamp   time.Time        `json:"timestamp"`
	TenantID    models.Tenant    `json:"tenant_id"`
	Type        EventType        `json:"type"`
	RollupID    uuid.UUID        `json:"rollup_id,omitempty"`
	ExecutionID uuid.UUID        `json:"execution_id,omitempty"`
	Actor       string           `json:"actor,omitempty"`
	Severity    errors.Severity  `json:"severity"`
	Detail      string           `json:"detail,omitempty"`
}

// Logger appends Events to a tenant-partitioned JSONL file under dir,
// one file per tenant so an operator can tail a single tenant's
// activity without grepping the rest.
type Logger struct {
	dir string
	mu  sync.Mutex
}

// NewLogger builds a Logger writing under dir (created on first Log
// call if missing).
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir}
}

// Log appends event to its tenant's log file.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(l.dir, string(event.TenantID)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(event)
}

// RollupEvent builds an Event for a RollupConfig lifecycle action.
func RollupEvent(tenantID models.Tenant, eventType EventType, rollupID uuid.UUID, actor string) Event {
	return Event{TenantID: tenantID, Type: eventType, RollupID: rollupID, Actor: actor, Severity: errors.SeverityLow}
}

// ExecutionEvent builds an Event for an execution outcome, deriving
// severity from the execution's terminal phase.
func ExecutionEvent(tenantID models.Tenant, rollupID, executionID uuid.UUID, phase models.ExecutionPhase, detail string) Event {
	severity := errors.SeverityLow
	eventType := EventExecutionRun
	if phase == models.PhaseFailed {
		severity = errors.SeverityHigh
		eventType = EventExecutionFailed
	}
	return Event{
		TenantID:    tenantID,
		Type:        eventType,
		RollupID:    rollupID,
		ExecutionID: executionID,
		Severity:    severity,
		Detail:      detail,
	}
}
