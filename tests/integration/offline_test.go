// Integration tests for the offline write path: queue while disconnected,
// reconcile automatically on reconnect, survive a restart in between.
package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/reporter"
	"github.com/fieldsync/fieldsync/internal/store"
)

// recordingBackend captures every remote write the engine attempts.
type recordingBackend struct {
	mu    sync.Mutex
	calls []*models.QueuedOperation
}

func (b *recordingBackend) Apply(_ context.Context, op *models.QueuedOperation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op)
	return nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// recordingNotifier captures toast messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ reporter.Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestOfflineEditSyncsOnReconnect walks the reference scenario: an edit made
// offline is buffered, shows up in the pending badge count, replays exactly
// once on reconnect and produces a "Synced 1 change" notification.
func TestOfflineEditSyncsOnReconnect(t *testing.T) {
	st, err := store.Open(t.TempDir(), "tenant-7", store.RetryPolicy{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	backend := &recordingBackend{}
	notifier := &recordingNotifier{}
	monitor := connectivity.NewMonitor(false)
	eng := engine.New(st, monitor, backend, notifier, engine.Config{})

	eng.Start(context.Background())
	defer eng.Stop()

	t.Log("Editing a note while offline...")
	op, err := eng.Enqueue(store.NewOperationRequest{
		EntityType: "note",
		Kind:       models.OperationUpdate,
		TargetID:   "n1",
		Payload:    json.RawMessage(`{"title":"Shopping list"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if op.Status != models.StatusPending {
		t.Errorf("Expected pending status, got %s", op.Status)
	}

	pending, err := eng.Reporter().PendingCount()
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("Expected pending count 1, got %d", pending)
	}
	if backend.count() != 0 {
		t.Errorf("No backend call should happen while offline, got %d", backend.count())
	}

	t.Log("Simulating reconnect...")
	monitor.SetOnline(true)

	waitFor(t, "pending count to reach zero", func() bool {
		n, err := eng.Reporter().PendingCount()
		return err == nil && n == 0
	})

	if backend.count() != 1 {
		t.Fatalf("Expected exactly one backend call, got %d", backend.count())
	}
	applied := backend.calls[0]
	if applied.EntityType != "note" || applied.Kind != models.OperationUpdate || applied.TargetID != "n1" {
		t.Errorf("Backend received wrong operation: %s %s %s", applied.EntityType, applied.Kind, applied.TargetID)
	}

	waitFor(t, "sync notification", func() bool { return len(notifier.all()) > 0 })
	if got := notifier.all()[0]; got != "Synced 1 change" {
		t.Errorf("Expected notification %q, got %q", "Synced 1 change", got)
	}

	t.Log("Offline edit reconciled successfully")
}

// TestQueueSurvivesRestart verifies that writes queued offline are still
// replayed after the process restarts.
func TestQueueSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(dir, "tenant-7", store.RetryPolicy{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	for _, target := range []string{"wo-1", "wo-2", "wo-3"} {
		_, err := st.Enqueue(store.NewOperationRequest{
			EntityType: "work_order",
			Kind:       models.OperationUpdate,
			TargetID:   target,
			Payload:    json.RawMessage(`{"status":"done"}`),
		})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	t.Log("Simulating app restart...")
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := store.Open(dir, "tenant-7", store.RetryPolicy{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	backend := &recordingBackend{}
	monitor := connectivity.NewMonitor(true)
	eng := engine.New(reopened, monitor, backend, nil, engine.Config{})

	eng.Start(context.Background())
	defer eng.Stop()

	waitFor(t, "queued writes to replay", func() bool { return backend.count() == 3 })

	remaining, err := reopened.Count(store.Filter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("Expected empty queue after replay, got %d", remaining)
	}
}
