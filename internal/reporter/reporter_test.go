package reporter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/processor"
	"github.com/fieldsync/fieldsync/internal/store"
)

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	levels   []Level
	messages []string
}

func (n *recordingNotifier) Notify(level Level, message string) {
	n.levels = append(n.levels, level)
	n.messages = append(n.messages, message)
}

func newTestReporter(t *testing.T) (*Reporter, *store.Store, *recordingNotifier) {
	t.Helper()
	st, err := store.Open(t.TempDir(), "session-1", store.RetryPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := &recordingNotifier{}
	return New(st, notifier), st, notifier
}

func TestOnBatchCompleteSuccessOnly(t *testing.T) {
	r, _, notifier := newTestReporter(t)

	r.OnBatchComplete(processor.BatchResult{Successful: 3})

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, LevelSuccess, notifier.levels[0])
	assert.Equal(t, "Synced 3 changes", notifier.messages[0])
}

func TestOnBatchCompleteSingular(t *testing.T) {
	r, _, notifier := newTestReporter(t)

	r.OnBatchComplete(processor.BatchResult{Successful: 1})

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Synced 1 change", notifier.messages[0])
}

func TestOnBatchCompleteMixed(t *testing.T) {
	r, _, notifier := newTestReporter(t)

	r.OnBatchComplete(processor.BatchResult{Successful: 2, Failed: 1})

	require.Len(t, notifier.messages, 2)
	assert.Equal(t, "Synced 2 changes", notifier.messages[0])
	assert.Equal(t, LevelError, notifier.levels[1])
	assert.Equal(t, "Failed to sync 1 change", notifier.messages[1])
}

func TestOnBatchCompleteEmitsNothing(t *testing.T) {
	r, _, notifier := newTestReporter(t)

	r.OnBatchComplete(processor.BatchResult{})
	r.OnBatchComplete(processor.BatchResult{Skipped: true, Successful: 9})

	assert.Empty(t, notifier.messages)
}

func TestNilNotifierIsSafe(t *testing.T) {
	st, err := store.Open(t.TempDir(), "session-1", store.RetryPolicy{})
	require.NoError(t, err)
	defer st.Close()

	r := New(st, nil)
	r.OnBatchComplete(processor.BatchResult{Successful: 1, Failed: 1})
}

func TestPendingCountIncludesFailed(t *testing.T) {
	r, st, _ := newTestReporter(t)

	op, err := st.Enqueue(store.NewOperationRequest{
		EntityType: "note", Kind: models.OperationUpdate, TargetID: "n1",
		Payload: json.RawMessage(`{"title":"x"}`),
	})
	require.NoError(t, err)
	_, err = st.Enqueue(store.NewOperationRequest{
		EntityType: "note", Kind: models.OperationUpdate, TargetID: "n2",
		Payload: json.RawMessage(`{"title":"y"}`),
	})
	require.NoError(t, err)

	// Exhaust the first op's retries so it becomes permanently failed.
	for i := 0; i < st.Policy().MaxAttempts; i++ {
		_, err = st.MarkFailed(op.ID, assert.AnError)
		require.NoError(t, err)
	}

	count, err := r.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "failed operations still count as unsynced")
}
