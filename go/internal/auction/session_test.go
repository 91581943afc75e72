package auction

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercutlive/undercut/go/internal/auction/events"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func eventTypes(evts []Event) []EventType {
	out := make([]EventType, 0, len(evts))
	for _, ev := range evts {
		out = append(out, ev.Type)
	}
	return out
}

func findEvent(t *testing.T, evts []Event, eventType EventType) Event {
	t.Helper()
	for _, ev := range evts {
		if ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("no %s event in %v", eventType, eventTypes(evts))
	return Event{}
}

func hasEvent(evts []Event, eventType EventType) bool {
	for _, ev := range evts {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

// newActiveSession ticks a fresh session through its start countdown and
// returns it together with the time of the last tick.
func newActiveSession(t *testing.T, cfg SessionConfig) (*Session, time.Time) {
	t.Helper()
	s := NewSession("session-1", cfg, testBase)
	now := testBase
	for i := 0; i < cfg.StartCountdownSec; i++ {
		now = now.Add(time.Second)
		s.Tick(now)
	}
	require.Equal(t, StateActive, s.State())
	return s, now
}

func TestCountdownGatesActivation(t *testing.T) {
	s := NewSession("session-1", DefaultSessionConfig(), testBase)
	require.Equal(t, StatePending, s.State())

	snap := s.Snapshot(testBase)
	assert.Equal(t, float64(1000), snap.CurrentBid)
	assert.Equal(t, 1800, snap.TimeRemainingSec)
	assert.Equal(t, 30, snap.StartCountdownSec)
	assert.False(t, snap.IsActive)

	now := testBase
	for i := 0; i < 29; i++ {
		now = now.Add(time.Second)
		evts := s.Tick(now)
		require.Equal(t, StatePending, s.State(), "active before countdown expired")
		require.True(t, hasEvent(evts, EventTypeCountdownTick))
		require.False(t, hasEvent(evts, EventTypeSessionStarted))
	}

	now = now.Add(time.Second)
	evts := s.Tick(now)
	require.Equal(t, StateActive, s.State())
	require.True(t, hasEvent(evts, EventTypeSessionStarted))

	snap = s.Snapshot(now)
	assert.Equal(t, 0, snap.StartCountdownSec)
	assert.True(t, snap.IsActive)
}

func TestBidsBeforeStartRejected(t *testing.T) {
	s := NewSession("session-1", DefaultSessionConfig(), testBase)

	_, err := s.PlaceBid("conn-1", 900, "alice", testBase)
	var bidErr *BidError
	require.ErrorAs(t, err, &bidErr)
	assert.Equal(t, RejectSessionNotActive, bidErr.Kind)
}

func TestReverseBiddingStrictDecrease(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())
	s.Join("conn-1", "user-1", "alice", now)

	evts, err := s.PlaceBid("conn-1", 900, "", now)
	require.NoError(t, err)
	assert.Equal(t, float64(900), s.CurrentBid())

	newBid := findEvent(t, evts, EventTypeNewBid)
	var payload events.NewBidPayload
	require.NoError(t, json.Unmarshal(newBid.Data, &payload))
	assert.Equal(t, float64(900), payload.Bid.Amount)
	assert.Equal(t, "user-1", payload.Bid.BidderUserID)
	assert.Equal(t, "alice", payload.Bid.Username)
	assert.Equal(t, 30, payload.CooldownSec)
	require.True(t, hasEvent(evts, EventTypeSessionSnapshot))

	_, err = s.PlaceBid("conn-1", 950, "", now)
	var bidErr *BidError
	require.ErrorAs(t, err, &bidErr)
	assert.Equal(t, RejectBidTooHigh, bidErr.Kind)
	assert.Equal(t, float64(900), s.CurrentBid(), "rejected bid mutated state")

	_, err = s.PlaceBid("conn-1", 800, "", now)
	require.NoError(t, err)
	assert.Equal(t, float64(800), s.CurrentBid())
}

func TestEqualBidRejected(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	_, err := s.PlaceBid("conn-1", 500, "alice", now)
	require.NoError(t, err)

	_, err = s.PlaceBid("conn-2", 500, "bob", now)
	var bidErr *BidError
	require.ErrorAs(t, err, &bidErr)
	assert.Equal(t, RejectBidTooHigh, bidErr.Kind)
}

func TestFirstBidNotBoundByStartingPrice(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	// The strict-decrease rule only compares against prior bids; the
	// starting price is display state until the leaderboard is non-empty.
	_, err := s.PlaceBid("conn-1", 1500, "alice", now)
	require.NoError(t, err)
	assert.Equal(t, float64(1500), s.CurrentBid())
}

func TestInvalidAmountsRejected(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := s.PlaceBid("conn-1", amount, "alice", now)
		var bidErr *BidError
		require.ErrorAs(t, err, &bidErr)
		assert.Equal(t, RejectInvalidBid, bidErr.Kind)
	}
	assert.Equal(t, 0, s.BidCount())
}

func TestLeaderboardSortedAndBounded(t *testing.T) {
	cfg := DefaultSessionConfig()
	s, now := newActiveSession(t, cfg)

	amount := 990.0
	for i := 0; i < 15; i++ {
		_, err := s.PlaceBid("conn-1", amount, "alice", now)
		require.NoError(t, err)
		amount -= 10
	}

	snap := s.Snapshot(now)
	require.Len(t, snap.Leaderboard, cfg.LeaderboardSize)
	for i := 1; i < len(snap.Leaderboard); i++ {
		require.LessOrEqual(t, snap.Leaderboard[i-1].Amount, snap.Leaderboard[i].Amount)
	}
	assert.Equal(t, snap.Leaderboard[0].Amount, snap.CurrentBid)
	assert.Equal(t, float64(850), snap.CurrentBid)
}

func TestCooldownExpiryEndsSession(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	_, err := s.PlaceBid("conn-1", 700, "alice", now)
	require.NoError(t, err)

	for i := 0; i < 29; i++ {
		now = now.Add(time.Second)
		evts := s.Tick(now)
		require.Equal(t, StateActive, s.State())
		cooldown := findEvent(t, evts, EventTypeCooldownTick)
		var payload events.CooldownTickPayload
		require.NoError(t, json.Unmarshal(cooldown.Data, &payload))
		require.Equal(t, 29-i, payload.CooldownRemainingSec)
	}

	now = now.Add(time.Second)
	evts := s.Tick(now)
	require.Equal(t, StateEnded, s.State())

	ended := findEvent(t, evts, EventTypeSessionEnded)
	var payload events.SessionEndedPayload
	require.NoError(t, json.Unmarshal(ended.Data, &payload))
	assert.Equal(t, events.EndReasonCooldown, payload.Reason)
	require.NotNil(t, payload.Winner)
	assert.Equal(t, float64(700), payload.Winner.Amount)
}

func TestNewBidRestartsCooldown(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	_, err := s.PlaceBid("conn-1", 700, "alice", now)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		s.Tick(now)
	}

	_, err = s.PlaceBid("conn-1", 650, "alice", now)
	require.NoError(t, err)

	now = now.Add(time.Second)
	evts := s.Tick(now)
	cooldown := findEvent(t, evts, EventTypeCooldownTick)
	var payload events.CooldownTickPayload
	require.NoError(t, json.Unmarshal(cooldown.Data, &payload))
	assert.Equal(t, 29, payload.CooldownRemainingSec)
}

func TestTimeoutWithNoBids(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.StartCountdownSec = 0
	cfg.DurationSec = 5
	s := NewSession("session-1", cfg, testBase)
	require.Equal(t, StateActive, s.State(), "zero countdown starts active")

	now := testBase
	for i := 0; i < 4; i++ {
		now = now.Add(time.Second)
		evts := s.Tick(now)
		require.Equal(t, StateActive, s.State())
		require.False(t, hasEvent(evts, EventTypeCooldownTick), "cooldown armed without a bid")
	}

	now = now.Add(time.Second)
	evts := s.Tick(now)
	require.Equal(t, StateEnded, s.State())

	ended := findEvent(t, evts, EventTypeSessionEnded)
	var payload events.SessionEndedPayload
	require.NoError(t, json.Unmarshal(ended.Data, &payload))
	assert.Equal(t, events.EndReasonTimeout, payload.Reason)
	assert.Nil(t, payload.Winner)

	// Terminal state: ticks are inert and bids are refused.
	require.Empty(t, s.Tick(now.Add(time.Second)))
	_, err := s.PlaceBid("conn-1", 100, "alice", now)
	var bidErr *BidError
	require.ErrorAs(t, err, &bidErr)
	assert.Equal(t, RejectSessionNotActive, bidErr.Kind)
}

func TestActiveUsersCountedByUserID(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	s.Join("conn-1", "user-1", "alice", now)
	s.Join("conn-2", "user-1", "alice", now)
	assert.Equal(t, 1, s.ActiveUsers())
	assert.Equal(t, 2, s.ConnectionCount())

	// Re-joining the same connection updates the entry in place.
	s.Join("conn-1", "user-1", "alice2", now)
	assert.Equal(t, 2, s.ConnectionCount())

	evts := s.Leave("conn-1", now)
	require.True(t, hasEvent(evts, EventTypeActiveUsers))
	assert.Equal(t, 1, s.ActiveUsers())

	s.Leave("conn-2", now)
	assert.Equal(t, 0, s.ActiveUsers())

	// Leaving twice is harmless and broadcasts nothing new.
	require.Empty(t, s.Leave("conn-2", now))
}

func TestJoinEventAudiences(t *testing.T) {
	s := NewSession("session-1", DefaultSessionConfig(), testBase)
	evts := s.Join("conn-1", "user-1", "alice", testBase)
	require.Len(t, evts, 2)

	snapshot := findEvent(t, evts, EventTypeSessionSnapshot)
	assert.Equal(t, "conn-1", snapshot.TargetConn, "join snapshot must go to the caller only")

	users := findEvent(t, evts, EventTypeActiveUsers)
	assert.Empty(t, users.TargetConn, "active-user count goes to all subscribers")
	var payload events.ActiveUsersPayload
	require.NoError(t, json.Unmarshal(users.Data, &payload))
	assert.Equal(t, 1, payload.ActiveUsers)
}

func TestPeriodicSnapshotCadence(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.StartCountdownSec = 0
	s := NewSession("session-1", cfg, testBase)

	now := testBase
	snapshots := 0
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		if hasEvent(s.Tick(now), EventTypeSessionSnapshot) {
			snapshots++
		}
	}
	assert.Equal(t, 1, snapshots, "one snapshot per five seconds of remaining time")
}

func TestBidFromUnknownConnection(t *testing.T) {
	s, now := newActiveSession(t, DefaultSessionConfig())

	evts, err := s.PlaceBid("conn-9", 400, "", now)
	require.NoError(t, err)

	newBid := findEvent(t, evts, EventTypeNewBid)
	var payload events.NewBidPayload
	require.NoError(t, json.Unmarshal(newBid.Data, &payload))
	assert.Equal(t, "conn-9", payload.Bid.BidderUserID)
	assert.Equal(t, "anonymous", payload.Bid.Username)
}
