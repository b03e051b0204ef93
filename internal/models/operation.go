// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationKind is the kind of remote write an operation performs.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// OperationStatus is the replay status of a queued operation.
//
// Done entries are deleted from the store rather than retained, so the
// status never appears in a persisted row; it exists for reporting.
type OperationStatus string

const (
	StatusPending  OperationStatus = "pending"
	StatusInFlight OperationStatus = "in_flight"
	StatusFailed   OperationStatus = "failed"
	StatusDone     OperationStatus = "done"
)

// QueuedOperation is one durable record of a user-initiated write made while
// the device may be offline. The id doubles as the idempotency key sent to
// the backend on every replay attempt.
type QueuedOperation struct {
	ID           string          `db:"id" json:"id"`
	SessionKey   string          `db:"session_key" json:"session_key"`
	EntityType   string          `db:"entity_type" json:"entity_type"` // work_order, invoice, property, note
	Kind         OperationKind   `db:"kind" json:"kind"`
	TargetID     string          `db:"target_id" json:"target_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OperationStatus `db:"status" json:"status"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt  int64           `db:"next_retry_at" json:"next_retry_at"`
	LastError    string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    int64           `db:"created_at" json:"created_at"`
	UpdatedAt    int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "mutation_queue"
}

// CreatedTime returns CreatedAt as time.Time.
func (op *QueuedOperation) CreatedTime() time.Time {
	return time.Unix(op.CreatedAt, 0)
}

// Exhausted reports whether the operation has used up its retry budget.
func (op *QueuedOperation) Exhausted() bool {
	return op.AttemptCount >= op.MaxAttempts
}
