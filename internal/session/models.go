package session

import (
	"time"

	"github.com/akhan-msft/mediabotv2/internal/meeting"
)

// CallSession represents one attempt to participate in a remote meeting.
//
// Invariants:
// - InternalID is assigned at creation and immutable.
// - ProviderCallID is empty until the platform accepts the call; once set it is
//   immutable, and at most one session holds a given provider call id.
// - State only moves forward through the transition graph, or into the
//   terminal Ended/Failed states.
// - Only the Registry mutates sessions; everyone else works on copies.
type CallSession struct {
	InternalID     string                 `json:"internal_id"`
	ProviderCallID string                 `json:"provider_call_id,omitempty"`
	Meeting        meeting.JoinDescriptor `json:"meeting"`
	Origin         Origin                 `json:"origin"`

	State State `json:"state"`

	// LastError is set only when the session reaches Failed.
	LastError string `json:"last_error,omitempty"`

	// AudioActive and Participants are side-channel facts recorded for
	// observability; they do not drive the top-level lifecycle state.
	AudioActive  bool              `json:"audio_active"`
	Participants map[string]string `json:"participants,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type State string

const (
	StateRequested   State = "requested"
	StateInvited     State = "invited"
	StateEstablished State = "established"
	StateMediaActive State = "media_active"
	StateEnded       State = "ended"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// forwardEdges is the allowed transition graph. Failed is reachable from any
// non-terminal state via Fail and is intentionally absent here.
var forwardEdges = map[State][]State{
	StateRequested:   {StateInvited, StateEstablished},
	StateInvited:     {StateEstablished},
	StateEstablished: {StateMediaActive, StateEnded},
	StateMediaActive: {StateEnded},
}

func canTransition(from, to State) bool {
	for _, next := range forwardEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Origin records how a session came to exist.
type Origin string

const (
	// OriginInbound: the platform invited the bot to a meeting.
	OriginInbound Origin = "inbound"
	// OriginOutbound: an operator asked the bot to join a meeting.
	OriginOutbound Origin = "outbound"
)

// Outcome classifies the result of a registry mutation. Rejections are
// ordinary results, not errors: stale and duplicate notifications are part of
// normal operation.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInvalid covers edges that skip states, move backward, or target a
	// terminal session.
	OutcomeInvalid  Outcome = "invalid_transition"
	OutcomeNotFound Outcome = "not_found"
)

// TransitionResult describes what a transition attempt did.
type TransitionResult struct {
	Outcome Outcome
	From    State
	To      State
	Session CallSession
}

// Applied reports whether the mutation changed the session.
func (r TransitionResult) Applied() bool { return r.Outcome == OutcomeApplied }
