package auction

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/undercutlive/undercut/go/internal/auction/events"
)

// State represents the lifecycle phase of an auction session
type State string

const (
	StatePending State = "PENDING"
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
)

// SessionConfig holds the per-session constants applied at creation time
type SessionConfig struct {
	StartCountdownSec int     `yaml:"start_countdown_sec"`
	DurationSec       int     `yaml:"duration_sec"`
	StartingPrice     float64 `yaml:"starting_price"`
	BidCooldownSec    int     `yaml:"bid_cooldown_sec"`
	LeaderboardSize   int     `yaml:"leaderboard_size"`
}

// DefaultSessionConfig returns the stock reverse-auction parameters
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		StartCountdownSec: 30,
		DurationSec:       1800,
		StartingPrice:     1000,
		BidCooldownSec:    30,
		LeaderboardSize:   10,
	}
}

// Participant is one connected viewer of a session. Multiple connections may
// carry the same UserID (reconnects, multiple tabs).
type Participant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Session is the state machine for one reverse auction. All mutation goes
// through its methods under the session mutex, so two bids racing for the
// same session are serialized and the second always sees the first's price.
type Session struct {
	id  string
	cfg SessionConfig

	mu             sync.Mutex
	state          State
	startCountdown int
	timeRemaining  int
	currentBid     float64
	leaderboard    []events.Bid
	participants   map[string]Participant
	cooldownActive bool
	lastBidTime    time.Time
	createdAt      time.Time
	startedAt      time.Time
	endedAt        time.Time
}

// NewSession creates a pending session with the configured defaults.
func NewSession(id string, cfg SessionConfig, now time.Time) *Session {
	s := &Session{
		id:             id,
		cfg:            cfg,
		state:          StatePending,
		startCountdown: cfg.StartCountdownSec,
		timeRemaining:  cfg.DurationSec,
		currentBid:     cfg.StartingPrice,
		participants:   make(map[string]Participant),
		createdAt:      now,
	}
	if cfg.StartCountdownSec <= 0 {
		// No countdown configured: the session opens for bidding immediately.
		s.state = StateActive
		s.startCountdown = 0
		s.startedAt = now
	}
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CreatedAt returns the session creation time, used by the retention sweep.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Join registers or overwrites the participant entry for a connection and
// returns a snapshot event for the caller plus an active-user broadcast.
// Idempotent per connection; allowed in any lifecycle state.
func (s *Session) Join(connID, userID, username string, now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants[connID] = Participant{UserID: userID, Username: username}

	return []Event{
		newDirectEvent(s.id, connID, EventTypeSessionSnapshot, now, s.snapshotLocked(now)),
		newEvent(s.id, EventTypeActiveUsers, now, events.ActiveUsersPayload{
			SessionID:   s.id,
			ActiveUsers: s.activeUsersLocked(),
		}),
	}
}

// Leave removes the participant entry for a connection. A connection that
// never joined is a no-op with no broadcast.
func (s *Session) Leave(connID string, now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return nil
	}
	delete(s.participants, connID)

	return []Event{
		newEvent(s.id, EventTypeActiveUsers, now, events.ActiveUsersPayload{
			SessionID:   s.id,
			ActiveUsers: s.activeUsersLocked(),
		}),
	}
}

// PlaceBid applies the reverse-auction acceptance rules as a single atomic
// step. On acceptance it returns the broadcast events (new bid + fresh
// snapshot); on rejection it returns a *BidError and leaves state unchanged.
func (s *Session) PlaceBid(connID string, amount float64, username string, now time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil, rejectf(RejectSessionNotActive, "session %s is not accepting bids", s.id)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, rejectf(RejectInvalidBid, "bid amount must be a finite number")
	}
	if len(s.leaderboard) > 0 && amount >= s.currentBid {
		return nil, rejectf(RejectBidTooHigh, "bid must be lower than %.2f", s.currentBid)
	}

	bid := events.Bid{
		BidderUserID: connID,
		Username:     username,
		Amount:       amount,
		PlacedAt:     now,
	}
	if p, ok := s.participants[connID]; ok {
		bid.BidderUserID = p.UserID
		if bid.Username == "" {
			bid.Username = p.Username
		}
	}
	if bid.Username == "" {
		bid.Username = "anonymous"
	}

	s.leaderboard = append(s.leaderboard, bid)
	sort.SliceStable(s.leaderboard, func(i, j int) bool {
		return s.leaderboard[i].Amount < s.leaderboard[j].Amount
	})
	if len(s.leaderboard) > s.cfg.LeaderboardSize {
		s.leaderboard = s.leaderboard[:s.cfg.LeaderboardSize]
	}
	s.currentBid = s.leaderboard[0].Amount
	s.lastBidTime = now
	s.cooldownActive = true

	return []Event{
		newEvent(s.id, EventTypeNewBid, now, events.NewBidPayload{
			SessionID:   s.id,
			Bid:         bid,
			CooldownSec: s.cfg.BidCooldownSec,
		}),
		newEvent(s.id, EventTypeSessionSnapshot, now, s.snapshotLocked(now)),
	}, nil
}

// Tick advances the session's timers by one scheduler period.
func (s *Session) Tick(now time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePending:
		return s.tickPendingLocked(now)
	case StateActive:
		return s.tickActiveLocked(now)
	default:
		return nil
	}
}

func (s *Session) tickPendingLocked(now time.Time) []Event {
	if s.startCountdown > 0 {
		s.startCountdown--
	}

	out := []Event{
		newEvent(s.id, EventTypeCountdownTick, now, events.CountdownTickPayload{
			SessionID:         s.id,
			StartCountdownSec: s.startCountdown,
		}),
	}

	if s.startCountdown == 0 {
		s.state = StateActive
		s.startedAt = now
		out = append(out, newEvent(s.id, EventTypeSessionStarted, now, events.SessionStartedPayload{
			SessionID: s.id,
			StartedAt: now,
		}))
	}
	return out
}

func (s *Session) tickActiveLocked(now time.Time) []Event {
	if s.timeRemaining > 0 {
		s.timeRemaining--
	}

	var out []Event

	if s.cooldownActive {
		remaining := s.cooldownRemainingLocked(now)
		if remaining <= 0 {
			return append(out, s.endLocked(events.EndReasonCooldown, now))
		}
		out = append(out, newEvent(s.id, EventTypeCooldownTick, now, events.CooldownTickPayload{
			SessionID:            s.id,
			CooldownRemainingSec: remaining,
		}))
	}

	// Full snapshots go out on every 5th remaining second to bound
	// broadcast volume.
	if s.timeRemaining%5 == 0 {
		out = append(out, newEvent(s.id, EventTypeSessionSnapshot, now, s.snapshotLocked(now)))
	}

	if s.timeRemaining == 0 {
		return append(out, s.endLocked(events.EndReasonTimeout, now))
	}
	return out
}

func (s *Session) endLocked(reason events.EndReason, now time.Time) Event {
	s.state = StateEnded
	s.endedAt = now

	payload := events.SessionEndedPayload{
		SessionID: s.id,
		Reason:    reason,
		EndedAt:   now,
	}
	if len(s.leaderboard) > 0 {
		winner := s.leaderboard[0]
		payload.Winner = &winner
	}
	return newEvent(s.id, EventTypeSessionEnded, now, payload)
}

// Snapshot returns the full observable state of the session.
func (s *Session) Snapshot(now time.Time) events.SessionSnapshotPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

func (s *Session) snapshotLocked(now time.Time) events.SessionSnapshotPayload {
	leaderboard := make([]events.Bid, len(s.leaderboard))
	copy(leaderboard, s.leaderboard)

	cooldownRemaining := 0
	if s.cooldownActive && s.state == StateActive {
		if r := s.cooldownRemainingLocked(now); r > 0 {
			cooldownRemaining = r
		}
	}

	return events.SessionSnapshotPayload{
		SessionID:            s.id,
		CurrentBid:           s.currentBid,
		Leaderboard:          leaderboard,
		TimeRemainingSec:     s.timeRemaining,
		StartCountdownSec:    s.startCountdown,
		ActiveUsers:          s.activeUsersLocked(),
		CooldownRemainingSec: cooldownRemaining,
		CooldownActive:       s.cooldownActive,
		IsActive:             s.state == StateActive,
		IsEnded:              s.state == StateEnded,
	}
}

func (s *Session) cooldownRemainingLocked(now time.Time) int {
	elapsed := int(now.Sub(s.lastBidTime) / time.Second)
	return s.cfg.BidCooldownSec - elapsed
}

// Active users are counted by distinct user id, never by connection: two
// tabs from one user are still one user.
func (s *Session) activeUsersLocked() int {
	users := make(map[string]struct{}, len(s.participants))
	for _, p := range s.participants {
		users[p.UserID] = struct{}{}
	}
	return len(users)
}

// ActiveUsers returns the count of distinct user ids currently present.
func (s *Session) ActiveUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeUsersLocked()
}

// ConnectionCount returns the number of registered connections.
func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// BidCount returns the number of bids currently on the leaderboard.
func (s *Session) BidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leaderboard)
}

// CurrentBid returns the best (lowest) accepted amount, or the starting
// price when no bid exists.
func (s *Session) CurrentBid() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentBid
}
