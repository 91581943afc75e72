package events

import (
	"time"
)

// Event payload types that are shared between the auction core and the gateway

// Bid is a single accepted bid as it appears on the leaderboard.
type Bid struct {
	BidderUserID string    `json:"bidder_user_id"`
	Username     string    `json:"username"`
	Amount       float64   `json:"amount"`
	PlacedAt     time.Time `json:"placed_at"`
}

// SessionSnapshotPayload is the full session state sent to a joining
// connection and broadcast periodically and after every accepted bid.
type SessionSnapshotPayload struct {
	SessionID            string  `json:"session_id"`
	CurrentBid           float64 `json:"current_bid"`
	Leaderboard          []Bid   `json:"leaderboard"`
	TimeRemainingSec     int     `json:"time_remaining_sec"`
	StartCountdownSec    int     `json:"start_countdown_sec"`
	ActiveUsers          int     `json:"active_users"`
	CooldownRemainingSec int     `json:"cooldown_remaining_sec"`
	CooldownActive       bool    `json:"cooldown_active"`
	IsActive             bool    `json:"is_active"`
	IsEnded              bool    `json:"is_ended"`
}

// ActiveUsersPayload is broadcast whenever the unique-user count changes.
type ActiveUsersPayload struct {
	SessionID   string `json:"session_id"`
	ActiveUsers int    `json:"active_users"`
}

// CountdownTickPayload is broadcast once per second while a session is pending.
type CountdownTickPayload struct {
	SessionID         string `json:"session_id"`
	StartCountdownSec int    `json:"start_countdown_sec"`
}

// SessionStartedPayload is broadcast once when the start countdown hits zero.
type SessionStartedPayload struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// NewBidPayload is broadcast when a bid clears the strict-decrease check.
type NewBidPayload struct {
	SessionID   string `json:"session_id"`
	Bid         Bid    `json:"bid"`
	CooldownSec int    `json:"cooldown_sec"`
}

// BidRejectedPayload goes to the bidding connection only.
type BidRejectedPayload struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// CooldownTickPayload is broadcast once per second while a bid cooldown runs.
type CooldownTickPayload struct {
	SessionID            string `json:"session_id"`
	CooldownRemainingSec int    `json:"cooldown_remaining_sec"`
}

// EndReason tells subscribers why a session ended.
type EndReason string

const (
	EndReasonTimeout  EndReason = "timeout"
	EndReasonCooldown EndReason = "cooldown"
)

// SessionEndedPayload is the terminal broadcast for a session.
type SessionEndedPayload struct {
	SessionID string    `json:"session_id"`
	Winner    *Bid      `json:"winner,omitempty"`
	Reason    EndReason `json:"reason"`
	EndedAt   time.Time `json:"ended_at"`
}

// HeartbeatAckPayload answers a heartbeat probe.
type HeartbeatAckPayload struct {
	ServerTime time.Time `json:"server_time"`
}
