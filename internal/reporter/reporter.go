// Package reporter turns batch results into user-facing notifications and
// exposes the live pending count for UI badges.
package reporter

import (
	"fmt"

	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/processor"
	"github.com/fieldsync/fieldsync/internal/store"
)

// Level classifies a notification for presentation.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier receives user-facing notifications. The websocket hub implements
// it in the daemon; tests use a recording fake.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) {
	f(level, message)
}

// Reporter aggregates per-batch outcomes into notifications.
type Reporter struct {
	store    *store.Store
	notifier Notifier
}

// New creates a Reporter. A nil notifier drops notifications.
func New(st *store.Store, notifier Notifier) *Reporter {
	return &Reporter{store: st, notifier: notifier}
}

// OnBatchComplete emits aggregate notifications for one drain pass. A
// skipped pass and an empty pass emit nothing.
func (r *Reporter) OnBatchComplete(result processor.BatchResult) {
	if result.Skipped {
		return
	}
	if result.Successful > 0 {
		r.notify(LevelSuccess, fmt.Sprintf("Synced %d %s", result.Successful, changes(result.Successful)))
	}
	if result.Failed > 0 {
		r.notify(LevelError, fmt.Sprintf("Failed to sync %d %s", result.Failed, changes(result.Failed)))
	}
}

// PendingCount returns the number of operations still awaiting a successful
// sync, including permanently failed ones awaiting user action. UI polls
// this on an interval to render the pending-changes badge.
func (r *Reporter) PendingCount() (int, error) {
	return r.store.Count(store.Filter{
		Statuses: []models.OperationStatus{models.StatusPending, models.StatusFailed},
	})
}

func (r *Reporter) notify(level Level, message string) {
	if r.notifier == nil {
		return
	}
	logging.Debug("Emitting notification", logging.Fields{"level": level, "message": message})
	r.notifier.Notify(level, message)
}

func changes(n int) string {
	if n == 1 {
		return "change"
	}
	return "changes"
}
