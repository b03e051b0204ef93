package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialState(t *testing.T) {
	offline := NewMonitor(false)
	st := offline.Status()
	assert.False(t, st.IsOnline)
	assert.Nil(t, st.LastOnlineAt, "never been online")

	online := NewMonitor(true)
	st = online.Status()
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.LastOnlineAt)
}

func TestTransitionUpdatesLastOnlineAt(t *testing.T) {
	m := NewMonitor(false)

	m.SetOnline(true)
	first := m.Status()
	require.NotNil(t, first.LastOnlineAt)

	m.SetOnline(false)
	st := m.Status()
	assert.False(t, st.IsOnline)
	assert.Equal(t, *first.LastOnlineAt, *st.LastOnlineAt, "going offline keeps the last online moment")
}

func TestSubscribersSeeTransitionsOnly(t *testing.T) {
	m := NewMonitor(false)

	var got []bool
	unsubscribe := m.Subscribe(func(online bool) {
		got = append(got, online)
	})

	m.SetOnline(false) // no transition
	m.SetOnline(true)
	m.SetOnline(true) // no transition
	m.SetOnline(false)

	assert.Equal(t, []bool{true, false}, got)

	unsubscribe()
	m.SetOnline(true)
	assert.Equal(t, []bool{true, false}, got, "unsubscribed callback must not fire")
}

func TestMultipleSubscribers(t *testing.T) {
	m := NewMonitor(false)

	var a, b int
	m.Subscribe(func(bool) { a++ })
	m.Subscribe(func(bool) { b++ })

	m.SetOnline(true)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
