package auction

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLazyCreate(t *testing.T) {
	r := NewRegistry(DefaultSessionConfig())

	_, ok := r.Get("session-1")
	require.False(t, ok, "Get must not create")

	s := r.GetOrCreate("session-1", testBase)
	require.NotNil(t, s)
	assert.Equal(t, StatePending, s.State())

	again := r.GetOrCreate("session-1", testBase)
	assert.Same(t, s, again)

	got, ok := r.Get("session-1")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultSessionConfig())

	const workers = 64
	results := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("session-1", testBase)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, r.Len(), "one id must yield one session")
	for i := 1; i < workers; i++ {
		require.Same(t, results[0], results[i])
	}
}

func TestRegistryRemoveAndAll(t *testing.T) {
	r := NewRegistry(DefaultSessionConfig())
	for i := 0; i < 3; i++ {
		r.GetOrCreate(fmt.Sprintf("session-%d", i), testBase)
	}
	require.Len(t, r.All(), 3)

	r.Remove("session-1")
	require.Equal(t, 2, r.Len())
	_, ok := r.Get("session-1")
	assert.False(t, ok)

	// Removing an absent id is a no-op.
	r.Remove("session-1")
	require.Equal(t, 2, r.Len())
}

func TestRegistrySummarize(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.StartCountdownSec = 0
	r := NewRegistry(cfg)

	active := r.GetOrCreate("session-a", testBase)
	active.Join("conn-1", "user-1", "alice", testBase)
	active.Join("conn-2", "user-1", "alice", testBase)
	_, err := active.PlaceBid("conn-1", 500, "", testBase)
	require.NoError(t, err)

	summary := r.Summarize()
	assert.Equal(t, 1, summary.TotalSessions)
	assert.Equal(t, 1, summary.ActiveSessions)
	require.Len(t, summary.Sessions, 1)

	s := summary.Sessions[0]
	assert.Equal(t, "session-a", s.SessionID)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 1, s.ActiveUsers)
	assert.Equal(t, 2, s.Connections)
	assert.Equal(t, 1, s.Bids)
	assert.Equal(t, float64(500), s.CurrentBid)
}
