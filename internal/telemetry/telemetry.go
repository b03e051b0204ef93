// Package telemetry provides process-local sync counters.
//
// Counters never leave the process; they are exposed on the local status
// endpoint for diagnostics only. No external transmission happens here.
package telemetry

import "sync/atomic"

// Counters tracks replay activity for one engine instance.
type Counters struct {
	drainsRun     atomic.Int64
	drainsSkipped atomic.Int64
	opsSynced     atomic.Int64
	opsFailed     atomic.Int64
	opsEnqueued   atomic.Int64
	opsDiscarded  atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	DrainsRun     int64 `json:"drains_run"`
	DrainsSkipped int64 `json:"drains_skipped"`
	OpsSynced     int64 `json:"ops_synced"`
	OpsFailed     int64 `json:"ops_failed"`
	OpsEnqueued   int64 `json:"ops_enqueued"`
	OpsDiscarded  int64 `json:"ops_discarded"`
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) DrainRun()     { c.drainsRun.Add(1) }
func (c *Counters) DrainSkipped() { c.drainsSkipped.Add(1) }
func (c *Counters) OpEnqueued()   { c.opsEnqueued.Add(1) }
func (c *Counters) OpDiscarded()  { c.opsDiscarded.Add(1) }

// OpsSynced adds n acknowledged operations.
func (c *Counters) OpsSynced(n int) { c.opsSynced.Add(int64(n)) }

// OpsFailed adds n failed replay attempts.
func (c *Counters) OpsFailed(n int) { c.opsFailed.Add(int64(n)) }

// Snapshot returns a copy of the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DrainsRun:     c.drainsRun.Load(),
		DrainsSkipped: c.drainsSkipped.Load(),
		OpsSynced:     c.opsSynced.Load(),
		OpsFailed:     c.opsFailed.Load(),
		OpsEnqueued:   c.opsEnqueued.Load(),
		OpsDiscarded:  c.opsDiscarded.Load(),
	}
}
