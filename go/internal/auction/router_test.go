package auction

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercutlive/undercut/go/internal/auction/events"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func newTestRouter(cfg SessionConfig) (*Router, *Registry, *recordingPublisher, clockwork.Clock) {
	registry := NewRegistry(cfg)
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(testBase)
	return NewRouter(registry, pub, clock), registry, pub, clock
}

func TestRouterJoinCreatesSession(t *testing.T) {
	router, registry, pub, _ := newTestRouter(DefaultSessionConfig())

	router.Join("session-1", "conn-1", "user-1", "alice")

	_, ok := registry.Get("session-1")
	require.True(t, ok, "join must create the session lazily")

	evts := pub.all()
	require.Len(t, evts, 2)
	snapshot := findEvent(t, evts, EventTypeSessionSnapshot)
	assert.Equal(t, "conn-1", snapshot.TargetConn)
	assert.True(t, hasEvent(evts, EventTypeActiveUsers))
}

func TestRouterBidFlow(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.StartCountdownSec = 0
	router, _, pub, _ := newTestRouter(cfg)

	router.Join("session-1", "conn-1", "user-1", "alice")
	pub.reset()

	amount := 750.0
	router.PlaceBid("session-1", "conn-1", &amount, "")

	evts := pub.all()
	require.True(t, hasEvent(evts, EventTypeNewBid))
	require.True(t, hasEvent(evts, EventTypeSessionSnapshot))
	snapshot := findEvent(t, evts, EventTypeSessionSnapshot)
	assert.Empty(t, snapshot.TargetConn, "post-bid snapshot is a broadcast")
}

func TestRouterRejectionsGoToCallerOnly(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.StartCountdownSec = 0
	router, _, pub, _ := newTestRouter(cfg)

	tests := []struct {
		name     string
		run      func()
		wantKind RejectKind
	}{
		{
			name: "unknown session",
			run: func() {
				amount := 100.0
				router.PlaceBid("nope", "conn-1", &amount, "")
			},
			wantKind: RejectUnknownSession,
		},
		{
			name: "missing amount",
			run: func() {
				router.Join("session-1", "conn-1", "user-1", "alice")
				pub.reset()
				router.PlaceBid("session-1", "conn-1", nil, "")
			},
			wantKind: RejectInvalidBid,
		},
		{
			name: "too high",
			run: func() {
				low := 500.0
				router.PlaceBid("session-1", "conn-1", &low, "")
				pub.reset()
				high := 600.0
				router.PlaceBid("session-1", "conn-1", &high, "")
			},
			wantKind: RejectBidTooHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub.reset()
			tt.run()

			evts := pub.all()
			require.Len(t, evts, 1)
			rejected := findEvent(t, evts, EventTypeBidRejected)
			require.Equal(t, "conn-1", rejected.TargetConn)

			var payload events.BidRejectedPayload
			require.NoError(t, json.Unmarshal(rejected.Data, &payload))
			assert.Equal(t, string(tt.wantKind), payload.Kind)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestRouterLeaveUnknownSessionIsNoop(t *testing.T) {
	router, _, pub, _ := newTestRouter(DefaultSessionConfig())

	router.Leave("nope", "conn-1")
	assert.Empty(t, pub.all())
}

func TestRouterHeartbeat(t *testing.T) {
	router, _, pub, clock := newTestRouter(DefaultSessionConfig())

	ack := router.Heartbeat()
	assert.Equal(t, clock.Now(), ack.ServerTime)
	assert.Empty(t, pub.all(), "heartbeat publishes nothing")
}
