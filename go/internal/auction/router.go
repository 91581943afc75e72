package auction

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/undercutlive/undercut/go/internal/auction/events"
)

// Router dispatches inbound client commands to sessions and publishes the
// resulting events. It is the only writer of the registry outside the
// retention sweep.
type Router struct {
	registry  *Registry
	publisher Publisher
	clock     clockwork.Clock
}

// NewRouter creates a command router over the given registry.
func NewRouter(registry *Registry, publisher Publisher, clock clockwork.Clock) *Router {
	return &Router{
		registry:  registry,
		publisher: publisher,
		clock:     clock,
	}
}

// Join routes a join command, creating the session on first sight of its id.
func (rt *Router) Join(sessionID, connID, userID, username string) {
	now := rt.clock.Now()
	session := rt.registry.GetOrCreate(sessionID, now)
	rt.publish(session.Join(connID, userID, username, now))

	log.Info().
		Str("session_id", sessionID).
		Str("conn_id", connID).
		Str("user_id", userID).
		Msg("connection joined session")
}

// Leave routes a leave command. Leaving a session that was never joined is
// a no-op.
func (rt *Router) Leave(sessionID, connID string) {
	session, ok := rt.registry.Get(sessionID)
	if !ok {
		return
	}
	rt.publish(session.Leave(connID, rt.clock.Now()))
}

// PlaceBid routes a bid command. Rejections are reported to the bidding
// connection only; accepted bids broadcast to the whole session.
func (rt *Router) PlaceBid(sessionID, connID string, amount *float64, username string) {
	now := rt.clock.Now()

	session, ok := rt.registry.Get(sessionID)
	if !ok {
		rt.reject(sessionID, connID, rejectf(RejectUnknownSession, "session %s does not exist", sessionID))
		return
	}
	if amount == nil {
		rt.reject(sessionID, connID, rejectf(RejectInvalidBid, "bid amount is required"))
		return
	}

	evts, err := session.PlaceBid(connID, *amount, username, now)
	if err != nil {
		var bidErr *BidError
		if errors.As(err, &bidErr) {
			rt.reject(sessionID, connID, bidErr)
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("unexpected bid failure")
		return
	}
	rt.publish(evts)

	log.Info().
		Str("session_id", sessionID).
		Str("conn_id", connID).
		Float64("amount", *amount).
		Msg("bid accepted")
}

// Heartbeat is a pure liveness probe; it never touches session state.
func (rt *Router) Heartbeat() events.HeartbeatAckPayload {
	return events.HeartbeatAckPayload{ServerTime: rt.clock.Now()}
}

func (rt *Router) reject(sessionID, connID string, bidErr *BidError) {
	log.Debug().
		Str("session_id", sessionID).
		Str("conn_id", connID).
		Str("kind", string(bidErr.Kind)).
		Msg("bid rejected")

	rt.publish([]Event{
		newDirectEvent(sessionID, connID, EventTypeBidRejected, rt.clock.Now(), events.BidRejectedPayload{
			SessionID: sessionID,
			Kind:      string(bidErr.Kind),
			Message:   bidErr.Message,
		}),
	})
}

func (rt *Router) publish(evts []Event) {
	for _, ev := range evts {
		rt.publisher.Publish(ev)
	}
}
