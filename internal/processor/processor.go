// Package processor drives replay of queued operations against the remote
// backend.
package processor

import (
	"context"
	"sync/atomic"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	apperrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/store"
	"github.com/fieldsync/fieldsync/internal/telemetry"
)

// Adapter performs the actual remote write for one operation. The operation
// id and the client-assigned target id are the idempotency keys: applying
// the same operation twice must have the effect of applying it once.
//
// An Adapter error marks the operation failed; it is recorded, never
// propagated out of the drain.
type Adapter interface {
	Apply(ctx context.Context, op *models.QueuedOperation) error
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, op *models.QueuedOperation) error

func (f AdapterFunc) Apply(ctx context.Context, op *models.QueuedOperation) error {
	return f(ctx, op)
}

// BatchResult summarizes one drain pass.
type BatchResult struct {
	Successful int  `json:"successful"`
	Failed     int  `json:"failed"`
	Remaining  int  `json:"remaining"` // pending or failed operations left in the store
	Skipped    bool `json:"skipped"`   // another drain was already running
}

// Processor replays pending operations in FIFO order, at most one drain at a
// time.
type Processor struct {
	store    *store.Store
	monitor  *connectivity.Monitor
	adapter  Adapter
	counters *telemetry.Counters
	draining atomic.Bool
}

// New creates a Processor over the given store, monitor and backend adapter.
func New(st *store.Store, monitor *connectivity.Monitor, adapter Adapter, counters *telemetry.Counters) *Processor {
	if counters == nil {
		counters = telemetry.NewCounters()
	}
	return &Processor{
		store:    st,
		monitor:  monitor,
		adapter:  adapter,
		counters: counters,
	}
}

// Draining reports whether a drain pass is currently running.
func (p *Processor) Draining() bool {
	return p.draining.Load()
}

// Drain replays all currently due pending operations, one at a time, in
// enqueue order.
//
// If a drain is already in progress the call is a no-op and returns a
// skipped result; concurrent triggers must not double-submit operations.
// Individual backend failures are recorded on the operation and never
// returned as an error; only a failure of the store itself aborts the pass.
// The loop checks connectivity before each operation and stops early when
// the device goes offline, leaving the remainder pending.
func (p *Processor) Drain(ctx context.Context) (BatchResult, error) {
	if p.adapter == nil {
		return BatchResult{}, apperrors.New(apperrors.ErrAdapterMissing, "no backend adapter registered")
	}
	if !p.draining.CompareAndSwap(false, true) {
		p.counters.DrainSkipped()
		logging.Debug("Drain already in progress, skipping", nil)
		return BatchResult{Skipped: true}, nil
	}
	defer p.draining.Store(false)

	p.counters.DrainRun()

	ops, err := p.store.List(store.Filter{
		Statuses: []models.OperationStatus{models.StatusPending},
		DueOnly:  true,
	})
	if err != nil {
		return BatchResult{}, err
	}

	var result BatchResult

	// Targets that failed earlier in this pass. Later operations on the
	// same record are held back so a create is never skipped ahead of by
	// its own update.
	blocked := make(map[string]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		if !p.monitor.Status().IsOnline {
			logging.Info("Connectivity lost mid-drain, stopping early",
				logging.Fields{"replayed": result.Successful + result.Failed})
			break
		}
		if blocked[op.TargetID] {
			continue
		}

		if err := p.store.MarkInFlight(op.ID); err != nil {
			return p.finish(result), err
		}

		if applyErr := p.adapter.Apply(ctx, op); applyErr != nil {
			failed, err := p.store.MarkFailed(op.ID, applyErr)
			if err != nil {
				return p.finish(result), err
			}
			result.Failed++
			blocked[op.TargetID] = true
			p.logFailure(failed, applyErr)
			continue
		}

		if err := p.store.MarkDone(op.ID); err != nil {
			return p.finish(result), err
		}
		result.Successful++
	}

	result = p.finish(result)
	logging.Info("Drain complete", logging.Fields{
		"successful": result.Successful,
		"failed":     result.Failed,
		"remaining":  result.Remaining,
	})
	return result, nil
}

// finish fills in the remaining count and telemetry for a pass.
func (p *Processor) finish(result BatchResult) BatchResult {
	p.counters.OpsSynced(result.Successful)
	p.counters.OpsFailed(result.Failed)

	remaining, err := p.store.Count(store.Filter{
		Statuses: []models.OperationStatus{models.StatusPending, models.StatusFailed},
	})
	if err != nil {
		logging.Error("Failed to count remaining operations", err, nil)
		return result
	}
	result.Remaining = remaining
	return result
}

func (p *Processor) logFailure(op *models.QueuedOperation, cause error) {
	fields := logging.Fields{
		"id":       op.ID,
		"entity":   op.EntityType,
		"kind":     op.Kind,
		"target":   op.TargetID,
		"attempts": op.AttemptCount,
	}
	if op.Status == models.StatusFailed {
		logging.Error("Operation failed permanently after exhausting retries", cause, fields)
		return
	}
	logging.Warn("Operation failed, will retry", fields)
}
