package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddGetRemove(t *testing.T) {
	registry := NewSessionRegistry(10)
	session := newSession("default/git-tools-x7f2p")

	require.NoError(t, registry.Add(session))
	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get(session.ID)
	require.True(t, ok)
	assert.Same(t, session, got)

	registry.Remove(session.ID)
	_, ok = registry.Get(session.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistryEnforcesLimit(t *testing.T) {
	registry := NewSessionRegistry(2)

	require.NoError(t, registry.Add(newSession("default/a")))
	require.NoError(t, registry.Add(newSession("default/b")))

	err := registry.Add(newSession("default/c"))
	assert.ErrorIs(t, err, ErrSessionLimit)
	assert.Equal(t, 2, registry.Count())
}

func TestRegistryUnlimitedWhenZero(t *testing.T) {
	registry := NewSessionRegistry(0)

	for i := 0; i < 100; i++ {
		require.NoError(t, registry.Add(newSession("default/a")))
	}
	assert.Equal(t, 100, registry.Count())
}

func TestRegistryCountForServer(t *testing.T) {
	registry := NewSessionRegistry(10)

	require.NoError(t, registry.Add(newSession("default/a")))
	require.NoError(t, registry.Add(newSession("default/a")))
	require.NoError(t, registry.Add(newSession("default/b")))

	assert.Equal(t, 2, registry.CountForServer("default/a"))
	assert.Equal(t, 1, registry.CountForServer("default/b"))
	assert.Equal(t, 0, registry.CountForServer("default/c"))
}

func TestRegistryCloseForServer(t *testing.T) {
	registry := NewSessionRegistry(10)
	target := newSession("default/a")
	other := newSession("default/b")
	require.NoError(t, registry.Add(target))
	require.NoError(t, registry.Add(other))

	closed := registry.CloseForServer("default/a", "server stopping")
	assert.Equal(t, 1, closed)

	select {
	case <-target.Done():
		assert.Equal(t, "server stopping", target.closeReason())
	default:
		t.Fatal("target session not closed")
	}

	select {
	case <-other.Done():
		t.Fatal("unrelated session was closed")
	default:
	}
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewSessionRegistry(10)
	first := newSession("default/a")
	second := newSession("default/b")
	require.NoError(t, registry.Add(first))
	require.NoError(t, registry.Add(second))

	registry.CloseAll("bridge shutting down")

	for _, session := range []*Session{first, second} {
		select {
		case <-session.Done():
			assert.Equal(t, "bridge shutting down", session.closeReason())
		default:
			t.Fatal("session not closed")
		}
	}
}

func TestRegistrySweepIdle(t *testing.T) {
	registry := NewSessionRegistry(10)
	stale := newSession("default/a")
	fresh := newSession("default/b")
	require.NoError(t, registry.Add(stale))
	require.NoError(t, registry.Add(fresh))

	stale.lastActiveNano.Store(time.Now().Add(-time.Hour).UnixNano())

	swept := registry.SweepIdle(30 * time.Minute)
	assert.Equal(t, 1, swept)

	select {
	case <-stale.Done():
	default:
		t.Fatal("stale session not closed")
	}
	select {
	case <-fresh.Done():
		t.Fatal("fresh session was closed")
	default:
	}
}

func TestRegistrySweepDisabled(t *testing.T) {
	registry := NewSessionRegistry(10)
	session := newSession("default/a")
	require.NoError(t, registry.Add(session))
	session.lastActiveNano.Store(time.Now().Add(-time.Hour).UnixNano())

	assert.Equal(t, 0, registry.SweepIdle(0))
}
