package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/engine"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/store"
)

// stubAdapter always succeeds.
type stubAdapter struct {
	mu    sync.Mutex
	count int
}

func (s *stubAdapter) Apply(context.Context, *models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func newTestServer(t *testing.T, online bool) (*httptest.Server, *engine.Engine) {
	t.Helper()
	st, err := store.Open(t.TempDir(), "session-1", store.RetryPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	monitor := connectivity.NewMonitor(online)
	hub := NewHub()
	eng := engine.New(st, monitor, &stubAdapter{}, hub, engine.Config{})

	srv := httptest.NewServer(New(eng, monitor, hub).Router())
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestEnqueueEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := postJSON(t, srv.URL+"/queue", map[string]any{
		"entity_type": "note",
		"kind":        "update",
		"target_id":   "n1",
		"payload":     map[string]string{"title": "Shopping list"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var op models.QueuedOperation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&op))
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, models.StatusPending, op.Status)
}

func TestEnqueueValidationError(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp := postJSON(t, srv.URL+"/queue", map[string]any{
		"entity_type": "note",
		"kind":        "update", // missing target_id
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestCountAndListEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, false)

	postJSON(t, srv.URL+"/queue", map[string]any{
		"entity_type": "note", "kind": "update", "target_id": "n1",
		"payload": map[string]string{"title": "x"},
	})

	resp, err := http.Get(srv.URL + "/queue/count")
	require.NoError(t, err)
	defer resp.Body.Close()
	var count map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&count))
	assert.Equal(t, 1, count["pending"])

	resp, err = http.Get(srv.URL + "/queue?status=pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ops []models.QueuedOperation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "n1", ops[0].TargetID)
}

func TestDiscardEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, false)

	op, err := eng.Enqueue(store.NewOperationRequest{
		EntityType: "note", Kind: models.OperationUpdate, TargetID: "n1",
		Payload: json.RawMessage(`{"title":"x"}`),
	})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/queue/"+op.ID+"/discard", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/queue/"+op.ID+"/discard", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestManualSyncEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, true)

	_, err := eng.Store().Enqueue(store.NewOperationRequest{
		EntityType: "note", Kind: models.OperationUpdate, TargetID: "n1",
		Payload: json.RawMessage(`{"title":"x"}`),
	})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.EqualValues(t, 1, result["successful"])
	assert.EqualValues(t, 0, result["remaining"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "disconnected", status["state"])
	assert.Equal(t, false, status["is_online"])
	assert.EqualValues(t, 0, status["pending"])
}
