package events

import "time"

// Event is an immutable fact describing a call lifecycle occurrence.
//
// Invariants:
// - Events are created once by the Dispatcher and never mutated.
// - Timestamps are monotonically non-decreasing per process.
// - Sinks own delivered events; this package keeps no log of its own.
type Event struct {
	Type        Type           `json:"event_type"`
	CallID      string         `json:"call_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

type Type string

const (
	TypeBotInvitedToMeeting Type = "BotInvitedToMeeting"
	TypeBotJoinedCall       Type = "BotJoinedCall"
	TypeCallEstablished     Type = "CallEstablished"
	TypeParticipantJoined   Type = "ParticipantJoined"
	TypeParticipantLeft     Type = "ParticipantLeft"
	TypeAudioStreamStarted  Type = "AudioStreamStarted"
	TypeAudioStreamStopped  Type = "AudioStreamStopped"
	TypeCallEnded           Type = "CallEnded"
	TypeCallFailed          Type = "CallFailed"
)

// Sentinel call ids for events that predate a session (e.g. parse failures).
const (
	CallIDSystem  = "system"
	CallIDUnknown = "unknown"
)
