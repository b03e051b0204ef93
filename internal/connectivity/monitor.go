// Package connectivity tracks whether the device currently has network
// connectivity and when it last did.
//
// The monitor does not probe anything itself; signal sources (a platform
// event bridge, the Prober, tests) push transitions via SetOnline. The
// reported state is best effort: a device can look online while the API
// endpoint is unreachable, and that case is handled by the replay failure
// path, not here.
package connectivity

import (
	"sync"
	"time"

	"github.com/fieldsync/fieldsync/internal/logging"
)

// Status is the current connectivity snapshot.
type Status struct {
	IsOnline     bool
	LastOnlineAt *time.Time // nil until the first online moment is observed
}

// Monitor is the single source of truth for connectivity state. It cannot
// fail; it only reports the signals it observes.
type Monitor struct {
	mu           sync.Mutex
	online       bool
	lastOnlineAt *time.Time
	subs         map[int]func(online bool)
	nextSubID    int
	now          func() time.Time
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initialOnline bool) *Monitor {
	m := &Monitor{
		subs: make(map[int]func(bool)),
		now:  time.Now,
	}
	if initialOnline {
		m.online = true
		t := m.now()
		m.lastOnlineAt = &t
	}
	return m
}

// Status returns the current connectivity snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{IsOnline: m.online}
	if m.lastOnlineAt != nil {
		t := *m.lastOnlineAt
		st.LastOnlineAt = &t
	}
	return st
}

// SetOnline records a connectivity signal. Subscribers are invoked only on
// transitions, outside the monitor lock and in no particular order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if online {
		t := m.now()
		m.lastOnlineAt = &t
	}
	callbacks := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", logging.Fields{"online": online})
	for _, fn := range callbacks {
		fn(online)
	}
}

// Subscribe registers a callback invoked on every transition. The returned
// function unsubscribes it.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
