package gateway

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/undercutlive/undercut/go/internal/auction/events"
)

// CommandRouter defines what the gateway needs from the auction command
// router.
type CommandRouter interface {
	Join(sessionID, connID, userID, username string)
	Leave(sessionID, connID string)
	PlaceBid(sessionID, connID string, amount *float64, username string)
	Heartbeat() events.HeartbeatAckPayload
}

// Client command verbs accepted over the WebSocket.
const (
	CommandJoin      = "join"
	CommandLeave     = "leave"
	CommandPlaceBid  = "place_bid"
	CommandHeartbeat = "heartbeat"
)

// ClientCommand is the JSON message a client sends over its WebSocket.
type ClientCommand struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
}

// heartbeatReply wraps the ack payload in the same envelope shape clients
// receive for session events.
type heartbeatReply struct {
	Type      string                     `json:"type"`
	Timestamp time.Time                  `json:"timestamp"`
	Data      events.HeartbeatAckPayload `json:"data"`
}

// handleClientMessage parses and dispatches one inbound client command.
func (cm *ConnectionManager) handleClientMessage(c *Connection, message []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("malformed client command")
		return
	}

	switch cmd.Type {
	case CommandJoin:
		cm.handleJoin(c, cmd)
	case CommandLeave:
		cm.handleLeave(c)
	case CommandPlaceBid:
		cm.handlePlaceBid(c, cmd)
	case CommandHeartbeat:
		cm.handleHeartbeat(c)
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("command", cmd.Type).
			Msg("unknown client command - ignoring")
	}
}

func (cm *ConnectionManager) handleJoin(c *Connection, cmd ClientCommand) {
	if cmd.SessionID == "" {
		log.Warn().Str("connection_id", c.ID).Msg("join command missing session_id")
		return
	}

	userID := cmd.UserID
	if userID == "" {
		userID = c.UserID
	}
	if userID == "" {
		// No identity from the transport or the command: treat the
		// connection itself as the user.
		userID = c.ID
	}

	if previous := cm.joinSession(c, cmd.SessionID); previous != "" {
		cm.router.Leave(previous, c.ID)
	}
	cm.router.Join(cmd.SessionID, c.ID, userID, cmd.Username)
}

func (cm *ConnectionManager) handleLeave(c *Connection) {
	if sessionID := cm.leaveSession(c); sessionID != "" {
		cm.router.Leave(sessionID, c.ID)
	}
}

func (cm *ConnectionManager) handlePlaceBid(c *Connection, cmd ClientCommand) {
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = cm.sessionOf(c)
	}
	if sessionID == "" {
		log.Warn().Str("connection_id", c.ID).Msg("place_bid command with no session")
		return
	}
	cm.router.PlaceBid(sessionID, c.ID, cmd.Amount, cmd.Username)
}

func (cm *ConnectionManager) handleHeartbeat(c *Connection) {
	reply := heartbeatReply{
		Type:      "HeartbeatAck",
		Timestamp: time.Now(),
		Data:      cm.router.Heartbeat(),
	}
	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal heartbeat reply")
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping heartbeat reply")
	}
}
