// Package engine ties the monitor, store, processor and reporter together
// into the connectivity-driven sync lifecycle.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/processor"
	"github.com/fieldsync/fieldsync/internal/reporter"
	"github.com/fieldsync/fieldsync/internal/store"
	"github.com/fieldsync/fieldsync/internal/telemetry"
)

// State is the engine's connectivity-driven state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnectedIdle State = "connected_idle"
	StateDraining      State = "draining"
)

// Config holds engine tuning knobs.
type Config struct {
	// RetryInterval is how often the engine re-attempts a drain while
	// online and operations are still pending. Keeps failed operations
	// retried without busy-looping after a partial failure.
	RetryInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{RetryInterval: time.Minute}
}

// Engine runs for the lifetime of a session. It triggers drains on
// connectivity restoration, on enqueue while online, and on a periodic
// retry tick; the processor's own mutual exclusion collapses overlapping
// triggers into one pass.
type Engine struct {
	store     *store.Store
	monitor   *connectivity.Monitor
	processor *processor.Processor
	reporter  *reporter.Reporter
	counters  *telemetry.Counters

	retryInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	unsubscribe   func()

	mu          sync.RWMutex
	running     bool
	lastResult  *processor.BatchResult
	lastDrainAt time.Time
}

// New assembles an engine over the store, monitor and backend adapter.
// notifier may be nil to drop notifications.
func New(st *store.Store, monitor *connectivity.Monitor, adapter processor.Adapter, notifier reporter.Notifier, cfg Config) *Engine {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	counters := telemetry.NewCounters()
	return &Engine{
		store:         st,
		monitor:       monitor,
		processor:     processor.New(st, monitor, adapter, counters),
		reporter:      reporter.New(st, notifier),
		counters:      counters,
		retryInterval: cfg.RetryInterval,
		stopCh:        make(chan struct{}),
	}
}

// Store exposes the underlying mutation queue store.
func (e *Engine) Store() *store.Store { return e.store }

// Reporter exposes the reconciliation reporter.
func (e *Engine) Reporter() *reporter.Reporter { return e.reporter }

// Counters exposes the process-local sync counters.
func (e *Engine) Counters() *telemetry.Counters { return e.counters }

// Start subscribes to connectivity transitions and begins the periodic
// retry loop. The initial state is whatever the monitor reports at startup.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		e.triggerDrain(ctx, "connectivity restored")
	})

	e.wg.Add(1)
	go e.retryLoop(ctx)

	logging.Info("Sync engine started", logging.Fields{
		"session": e.store.SessionKey(),
		"state":   e.State(),
	})

	// Catch up on anything queued before startup.
	if e.monitor.Status().IsOnline {
		e.triggerDrain(ctx, "startup")
	}
}

// Stop halts the engine and waits for background work to finish. An
// in-flight backend call is allowed to complete.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	close(e.stopCh)
	e.wg.Wait()

	logging.Info("Sync engine stopped", nil)
}

// Enqueue durably records a write and, when already online, immediately
// attempts a drain. The stored record is returned synchronously so
// optimistic UI can render from the local payload.
func (e *Engine) Enqueue(req store.NewOperationRequest) (*models.QueuedOperation, error) {
	op, err := e.store.Enqueue(req)
	if err != nil {
		return nil, err
	}
	e.counters.OpEnqueued()

	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()

	if running && e.monitor.Status().IsOnline {
		e.triggerDrain(context.Background(), "enqueue while online")
	}
	return op, nil
}

// Discard abandons an operation, normally one that exhausted its retries.
func (e *Engine) Discard(id string) error {
	if err := e.store.Discard(id); err != nil {
		return err
	}
	e.counters.OpDiscarded()
	return nil
}

// DrainNow runs a drain synchronously and reports the batch. Used by the
// manual sync trigger.
func (e *Engine) DrainNow(ctx context.Context) (processor.BatchResult, error) {
	result, err := e.processor.Drain(ctx)
	if err != nil {
		return result, err
	}
	e.recordResult(result)
	return result, nil
}

// State derives the current engine state from the monitor and processor.
func (e *Engine) State() State {
	if !e.monitor.Status().IsOnline {
		return StateDisconnected
	}
	if e.processor.Draining() {
		return StateDraining
	}
	return StateConnectedIdle
}

// LastResult returns the most recent non-skipped batch result, if any.
func (e *Engine) LastResult() (processor.BatchResult, time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastResult == nil {
		return processor.BatchResult{}, time.Time{}, false
	}
	return *e.lastResult, e.lastDrainAt, true
}

// retryLoop periodically re-attempts a drain while online. This is what
// picks failed operations back up once their backoff window elapses,
// without looping immediately after a partial failure.
func (e *Engine) retryLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.monitor.Status().IsOnline {
				continue
			}
			due, err := e.store.Count(store.Filter{
				Statuses: []models.OperationStatus{models.StatusPending},
				DueOnly:  true,
			})
			if err != nil {
				logging.Error("Failed to count due operations", err, nil)
				continue
			}
			if due > 0 {
				e.triggerDrain(ctx, "retry tick")
			}
		}
	}
}

// triggerDrain starts an asynchronous drain pass. Overlapping triggers are
// harmless: the processor skips all but one.
func (e *Engine) triggerDrain(ctx context.Context, reason string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		logging.Debug("Drain triggered", logging.Fields{"reason": reason})
		result, err := e.processor.Drain(ctx)
		if err != nil {
			logging.Error("Drain aborted on store failure", err, logging.Fields{"reason": reason})
			return
		}
		e.recordResult(result)
	}()
}

func (e *Engine) recordResult(result processor.BatchResult) {
	if result.Skipped {
		return
	}
	e.mu.Lock()
	e.lastResult = &result
	e.lastDrainAt = time.Now()
	e.mu.Unlock()

	e.reporter.OnBatchComplete(result)
}
