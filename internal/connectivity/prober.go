package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Prober drives a Monitor from periodic HTTP health checks. Headless hosts
// have no browser online/offline events, so the prober is the default signal
// source for the daemon; embedded callers can skip it and call SetOnline
// from their platform bridge instead.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewProber creates a Prober that HEAD-requests url every interval.
func NewProber(monitor *Monitor, url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		stopCh:   make(chan struct{}),
	}
}

// Start begins probing in the background. A probe runs immediately so the
// monitor has a real state before the first tick.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// probe performs one health check and pushes the result into the monitor.
// A probe failure is a signal, never an error.
func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.monitor.SetOnline(false)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.monitor.SetOnline(false)
		return
	}
	resp.Body.Close()
	p.monitor.SetOnline(resp.StatusCode < http.StatusInternalServerError)
}
