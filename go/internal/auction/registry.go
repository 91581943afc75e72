package auction

import (
	"sync"
	"time"
)

// Registry owns the mapping from session id to live session. Sessions are
// created lazily on first join and removed only by the retention sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      SessionConfig
}

// NewRegistry creates an empty registry whose sessions use cfg.
func NewRegistry(cfg SessionConfig) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// GetOrCreate returns the session for id, constructing a pending one if it
// does not exist. Safe for concurrent callers; one id gets one session.
func (r *Registry) GetOrCreate(id string, now time.Time) *Session {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s = NewSession(id, r.cfg, now)
	r.sessions[id] = s
	return s
}

// Get returns the session for id without creating it.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session. Only the retention sweep calls this.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// All returns a point-in-time slice of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionSummary is a read-only view of one session for health reporting.
type SessionSummary struct {
	SessionID   string  `json:"session_id"`
	State       State   `json:"state"`
	ActiveUsers int     `json:"active_users"`
	Connections int     `json:"connections"`
	Bids        int     `json:"bids"`
	CurrentBid  float64 `json:"current_bid"`
}

// Summary reports registry-wide counts, derivable without touching any
// bidding logic.
type Summary struct {
	TotalSessions  int              `json:"total_sessions"`
	ActiveSessions int              `json:"active_sessions"`
	Sessions       []SessionSummary `json:"sessions"`
}

// Summarize builds a Summary across all live sessions.
func (r *Registry) Summarize() Summary {
	all := r.All()
	summary := Summary{
		TotalSessions: len(all),
		Sessions:      make([]SessionSummary, 0, len(all)),
	}
	for _, s := range all {
		state := s.State()
		if state == StateActive {
			summary.ActiveSessions++
		}
		summary.Sessions = append(summary.Sessions, SessionSummary{
			SessionID:   s.ID(),
			State:       state,
			ActiveUsers: s.ActiveUsers(),
			Connections: s.ConnectionCount(),
			Bids:        s.BidCount(),
			CurrentBid:  s.CurrentBid(),
		})
	}
	return summary
}
