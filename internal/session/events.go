package session

import (
	"time"

	"github.com/fadechat/fadechat/internal/domain"
)

const (
	MemberJoinedEvent    = "member.joined"
	MemberLeftEvent      = "member.left"
	MessageReceivedEvent = "message.received"
	MessageFailedEvent   = "message.failed"
	RoomExpiringEvent    = "room.expiring"
	RoomExpiredEvent     = "room.expired"
	RateLimitedEvent     = "error.rate_limited"
	SystemEvent          = "system"
	ConnectivityEvent    = "connectivity"
)

// Event is what the session surfaces to its consumer (a TUI, a bot, a
// test). Exactly one payload field is set per event type.
type Event struct {
	Type string

	// Message is set for message.received and message.failed.
	Message *domain.Message

	// ParticipantID is set for member.joined and member.left.
	ParticipantID string

	// SecondsLeft is set for room.expiring ticks.
	SecondsLeft int

	// Text is set for system notices and rate-limit advisories.
	Text string

	// Connected is set for connectivity events.
	Connected bool

	At time.Time
}
