package auction

import "fmt"

// RejectKind classifies why a bid was refused.
type RejectKind string

const (
	RejectSessionNotActive RejectKind = "session_not_active"
	RejectInvalidBid       RejectKind = "invalid_bid"
	RejectBidTooHigh       RejectKind = "bid_too_high"
	RejectUnknownSession   RejectKind = "unknown_session"
)

// BidError is returned when a bid is refused. It is reported to the
// originating connection only and never mutates session state.
type BidError struct {
	Kind    RejectKind
	Message string
}

func (e *BidError) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", e.Kind, e.Message)
}

func rejectf(kind RejectKind, format string, args ...any) *BidError {
	return &BidError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
