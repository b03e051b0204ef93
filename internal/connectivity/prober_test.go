package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestProberTracksHealthEndpoint(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(m, srv.URL, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "online", func() bool { return m.Status().IsOnline })

	status.Store(http.StatusInternalServerError)
	waitFor(t, "offline", func() bool { return !m.Status().IsOnline })
}

func TestProberUnreachableHostIsOffline(t *testing.T) {
	m := NewMonitor(true)
	p := NewProber(m, "http://127.0.0.1:1", 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "offline", func() bool { return !m.Status().IsOnline })
}

func TestProberStopIsIdempotent(t *testing.T) {
	m := NewMonitor(false)
	p := NewProber(m, "http://127.0.0.1:1", time.Minute)
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
