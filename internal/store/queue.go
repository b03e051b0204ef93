package store

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
)

// NewOperationRequest describes a write to be queued. Callers on the UI
// write path build one of these for every user action, online or not.
type NewOperationRequest struct {
	EntityType string
	Kind       models.OperationKind
	TargetID   string          // required for update/delete; assigned for create when empty
	Payload    json.RawMessage // full field values for create/update, may be empty for delete
}

// Filter narrows List and Count. Zero value matches every operation in the
// session.
type Filter struct {
	Statuses   []models.OperationStatus
	EntityType string
	TargetID   string
	DueOnly    bool // only pending operations whose backoff window has elapsed
}

// Enqueue assigns an id and timestamps to the request, durably appends it to
// the log and returns the stored record. For create operations with no
// target id the store assigns one, so the client-side record id is stable
// across retries and doubles as the backend idempotency key.
func (s *Store) Enqueue(req NewOperationRequest) (*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := s.now().Unix()
	targetID := req.TargetID
	if targetID == "" {
		// Client-generated identity for the new remote record.
		targetID = uuid.NewString()
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	op := &models.QueuedOperation{
		ID:          uuid.NewString(),
		SessionKey:  s.sessionKey,
		EntityType:  req.EntityType,
		Kind:        req.Kind,
		TargetID:    targetID,
		Payload:     payload,
		Status:      models.StatusPending,
		MaxAttempts: s.policy.MaxAttempts,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(`
	INSERT INTO mutation_queue (id, session_key, entity_type, kind, target_id, payload,
		status, attempt_count, max_attempts, next_retry_at, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.SessionKey, op.EntityType, op.Kind, op.TargetID, []byte(op.Payload),
		op.Status, op.AttemptCount, op.MaxAttempts, op.NextRetryAt, op.LastError,
		op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return nil, storageErr("enqueue operation", err)
	}

	logging.Debug("Enqueued operation", logging.Fields{
		"id": op.ID, "entity": op.EntityType, "kind": op.Kind, "target": op.TargetID,
	})
	return op, nil
}

// List returns matching operations in enqueue order (created_at, then insert
// order for ties).
func (s *Store) List(filter Filter) ([]*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}

	where, args := s.buildWhere(filter)
	rows, err := s.db.Query(`
	SELECT id, session_key, entity_type, kind, target_id, payload,
		status, attempt_count, max_attempts, next_retry_at, last_error, created_at, updated_at
	FROM mutation_queue `+where+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, storageErr("list operations", err)
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, storageErr("scan operation", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list operations", err)
	}
	return ops, nil
}

// Count returns the number of matching operations without materializing
// payloads. UI badge polling calls this on an interval.
func (s *Store) Count(filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}

	where, args := s.buildWhere(filter)
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM mutation_queue `+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count operations", err)
	}
	return n, nil
}

// Get returns a single operation by id.
func (s *Store) Get(id string) (*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(`
	SELECT id, session_key, entity_type, kind, target_id, payload,
		status, attempt_count, max_attempts, next_retry_at, last_error, created_at, updated_at
	FROM mutation_queue WHERE session_key = ? AND id = ?`, s.sessionKey, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrOpNotFound, "operation not found: "+id)
	}
	if err != nil {
		return nil, storageErr("get operation", err)
	}
	return op, nil
}

// MarkInFlight flags an operation as currently being replayed.
func (s *Store) MarkInFlight(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return err
	}
	return s.setStatus(id, models.StatusInFlight)
}

// MarkDone removes an acknowledged operation from the log. Done entries are
// deleted, not retained.
func (s *Store) MarkDone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM mutation_queue WHERE session_key = ? AND id = ?`, s.sessionKey, id)
	if err != nil {
		return storageErr("delete operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrOpNotFound, "operation not found: "+id)
	}
	return nil
}

// MarkFailed records a failed replay attempt. The attempt count only ever
// increases. Below the retry cap the operation returns to pending with an
// exponential backoff window; at the cap it becomes permanently failed and
// waits for the user to discard or retry it.
func (s *Store) MarkFailed(id string, cause error) (*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return nil, err
	}

	op, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	op.AttemptCount++
	op.LastError = cause.Error()
	op.UpdatedAt = now.Unix()

	if op.Exhausted() {
		op.Status = models.StatusFailed
		op.LastError = apperrors.Wrap(apperrors.ErrRetryCapExceeded, "retry cap exceeded", cause).Error()
	} else {
		op.Status = models.StatusPending
		op.NextRetryAt = now.Add(s.policy.Backoff(op.AttemptCount)).Unix()
	}

	_, err = s.db.Exec(`
	UPDATE mutation_queue
	SET status = ?, attempt_count = ?, next_retry_at = ?, last_error = ?, updated_at = ?
	WHERE session_key = ? AND id = ?`,
		op.Status, op.AttemptCount, op.NextRetryAt, op.LastError, op.UpdatedAt,
		s.sessionKey, id,
	)
	if err != nil {
		return nil, storageErr("record failed attempt", err)
	}
	return op, nil
}

// Discard removes an operation regardless of status. This is the explicit
// user-visible abandonment path for permanently failed operations.
func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return err
	}

	res, err := s.db.Exec(`DELETE FROM mutation_queue WHERE session_key = ? AND id = ?`, s.sessionKey, id)
	if err != nil {
		return storageErr("discard operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrOpNotFound, "operation not found: "+id)
	}
	logging.Info("Discarded operation", logging.Fields{"id": id})
	return nil
}

// RetryFailed returns permanently failed operations to pending with a fresh
// retry budget. Attempt counts are preserved; the budget is extended instead.
func (s *Store) RetryFailed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return 0, err
	}

	now := s.now().Unix()
	res, err := s.db.Exec(`
	UPDATE mutation_queue
	SET status = 'pending', max_attempts = attempt_count + ?, next_retry_at = ?, updated_at = ?
	WHERE session_key = ? AND status = 'failed'`,
		s.policy.MaxAttempts, now, now, s.sessionKey,
	)
	if err != nil {
		return 0, storageErr("retry failed operations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// getLocked fetches an operation while the store mutex is already held.
func (s *Store) getLocked(id string) (*models.QueuedOperation, error) {
	row := s.db.QueryRow(`
	SELECT id, session_key, entity_type, kind, target_id, payload,
		status, attempt_count, max_attempts, next_retry_at, last_error, created_at, updated_at
	FROM mutation_queue WHERE session_key = ? AND id = ?`, s.sessionKey, id)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrOpNotFound, "operation not found: "+id)
	}
	if err != nil {
		return nil, storageErr("get operation", err)
	}
	return op, nil
}

// setStatus updates the status column for one operation.
func (s *Store) setStatus(id string, status models.OperationStatus) error {
	res, err := s.db.Exec(`
	UPDATE mutation_queue SET status = ?, updated_at = ? WHERE session_key = ? AND id = ?`,
		status, s.now().Unix(), s.sessionKey, id,
	)
	if err != nil {
		return storageErr("update operation status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrOpNotFound, "operation not found: "+id)
	}
	return nil
}

// buildWhere assembles the WHERE clause for List and Count.
func (s *Store) buildWhere(filter Filter) (string, []any) {
	clauses := []string{"session_key = ?"}
	args := []any{s.sessionKey}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.DueOnly {
		clauses = append(clauses, "next_retry_at <= ?")
		args = append(args, s.now().Unix())
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*models.QueuedOperation, error) {
	var op models.QueuedOperation
	var payload []byte
	err := row.Scan(
		&op.ID, &op.SessionKey, &op.EntityType, &op.Kind, &op.TargetID, &payload,
		&op.Status, &op.AttemptCount, &op.MaxAttempts, &op.NextRetryAt, &op.LastError,
		&op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Payload = json.RawMessage(payload)
	return &op, nil
}

func validateRequest(req NewOperationRequest) error {
	if req.EntityType == "" {
		return apperrors.New(apperrors.ErrValidation, "entity type is required")
	}
	switch req.Kind {
	case models.OperationCreate:
	case models.OperationUpdate, models.OperationDelete:
		if req.TargetID == "" {
			return apperrors.New(apperrors.ErrValidation, "target id is required for "+string(req.Kind))
		}
	default:
		return apperrors.New(apperrors.ErrValidation, "unknown operation kind: "+string(req.Kind))
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return apperrors.New(apperrors.ErrValidation, "payload is not valid JSON")
	}
	return nil
}
