package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akhan-msft/mediabotv2/internal/events"
	"github.com/akhan-msft/mediabotv2/internal/meeting"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrConflict = errors.New("session: provider call id already bound")
)

// Registry owns the authoritative in-memory table of call sessions.
//
// Concurrency model: the registry mutex guards only the index maps; every
// session carries its own mutex, so mutations on different sessions proceed
// independently while mutations on the same session are serialized. Events are
// emitted while the session mutex is held, which makes the per-session event
// order match the order transitions were accepted.
//
// Lock order is always registry mutex before session mutex.
type Registry struct {
	dispatcher *events.Dispatcher
	clock      func() time.Time
	newID      func() string

	mu         sync.RWMutex
	byInternal map[string]*entry
	byProvider map[string]*entry
}

type entry struct {
	mu sync.Mutex
	s  CallSession
}

func NewRegistry(dispatcher *events.Dispatcher) *Registry {
	return &Registry{
		dispatcher: dispatcher,
		clock:      time.Now,
		newID:      uuid.NewString,
		byInternal: make(map[string]*entry),
		byProvider: make(map[string]*entry),
	}
}

// WithClock overrides the registry clock. Intended for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Create allocates a new session in the Requested state.
//
// Inbound invitations announce themselves immediately; outbound joins stay
// silent until BindProviderID succeeds.
func (r *Registry) Create(descriptor meeting.JoinDescriptor, origin Origin) CallSession {
	now := r.clock().UTC()
	e := &entry{s: CallSession{
		InternalID:   r.newID(),
		Meeting:      descriptor,
		Origin:       origin,
		State:        StateRequested,
		Participants: make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}}

	r.mu.Lock()
	r.byInternal[e.s.InternalID] = e
	r.mu.Unlock()

	if origin == OriginInbound {
		r.emit(events.TypeBotInvitedToMeeting, e.s.InternalID,
			"Bot was invited to meeting: "+descriptor.MeetingID,
			map[string]any{"meeting_id": descriptor.MeetingID})
	}
	return e.snapshot()
}

// BindProviderID attaches the platform-assigned call id once the outbound
// call-creation request succeeds. Returns ErrConflict when the id is already
// bound to a different session, and ErrNotFound for unknown sessions.
func (r *Registry) BindProviderID(internalID, providerCallID string) error {
	if providerCallID == "" {
		return errors.New("session: provider call id is required")
	}

	// The registry mutex covers only the index maps. The session mutex is
	// taken before the provider index is published and released after the
	// announcement, so notifications racing the bind observe the id and the
	// event in bind order, while other sessions stay untouched by slow sinks.
	r.mu.Lock()
	e, ok := r.byInternal[internalID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if bound, ok := r.byProvider[providerCallID]; ok {
		r.mu.Unlock()
		if bound != e {
			return ErrConflict
		}
		return nil
	}

	e.mu.Lock()
	if e.s.ProviderCallID != "" && e.s.ProviderCallID != providerCallID {
		e.mu.Unlock()
		r.mu.Unlock()
		return ErrConflict
	}
	r.byProvider[providerCallID] = e
	r.mu.Unlock()
	defer e.mu.Unlock()

	e.s.ProviderCallID = providerCallID
	e.s.UpdatedAt = r.clock().UTC()

	if e.s.Origin == OriginOutbound && !e.s.State.Terminal() {
		meetingID := e.s.Meeting.MeetingID
		r.emit(events.TypeBotInvitedToMeeting, e.s.InternalID,
			"Bot joining meeting: "+meetingID,
			map[string]any{"meeting_id": meetingID, "provider_call_id": providerCallID})
	}
	return nil
}

// TransitionByProviderID validates and applies a lifecycle transition for the
// session bound to providerCallID.
func (r *Registry) TransitionByProviderID(providerCallID string, target State) TransitionResult {
	e, ok := r.providerEntry(providerCallID)
	if !ok {
		return TransitionResult{Outcome: OutcomeNotFound, To: target}
	}
	return r.transition(e, target)
}

// TransitionByInternalID is the internal-id variant of TransitionByProviderID.
func (r *Registry) TransitionByInternalID(internalID string, target State) TransitionResult {
	e, ok := r.internalEntry(internalID)
	if !ok {
		return TransitionResult{Outcome: OutcomeNotFound, To: target}
	}
	return r.transition(e, target)
}

func (r *Registry) transition(e *entry, target State) TransitionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.s.State
	switch {
	case from == target:
		return TransitionResult{Outcome: OutcomeDuplicate, From: from, To: target, Session: e.snapshotLocked()}
	case from.Terminal(), !canTransition(from, target):
		return TransitionResult{Outcome: OutcomeInvalid, From: from, To: target, Session: e.snapshotLocked()}
	}

	e.s.State = target
	e.s.UpdatedAt = r.clock().UTC()

	switch target {
	case StateEstablished:
		r.emit(events.TypeCallEstablished, e.s.InternalID,
			"Call has been successfully established", nil)
		r.emit(events.TypeBotJoinedCall, e.s.InternalID,
			"Bot successfully joined the call", nil)
	case StateMediaActive:
		e.s.AudioActive = true
		r.emit(events.TypeAudioStreamStarted, e.s.InternalID,
			"Audio stream started", map[string]any{"audio_active": true})
	case StateEnded:
		r.emit(events.TypeCallEnded, e.s.InternalID,
			"Call/Meeting has ended", nil)
	}

	return TransitionResult{Outcome: OutcomeApplied, From: from, To: target, Session: e.snapshotLocked()}
}

// Fail forces a session into Failed from any non-terminal state, recording the
// reason. Failing an already-failed session is a no-op.
func (r *Registry) Fail(internalID, reason string) TransitionResult {
	e, ok := r.internalEntry(internalID)
	if !ok {
		return TransitionResult{Outcome: OutcomeNotFound, To: StateFailed}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.s.State
	switch {
	case from == StateFailed:
		return TransitionResult{Outcome: OutcomeDuplicate, From: from, To: StateFailed, Session: e.snapshotLocked()}
	case from == StateEnded:
		return TransitionResult{Outcome: OutcomeInvalid, From: from, To: StateFailed, Session: e.snapshotLocked()}
	}

	e.s.State = StateFailed
	e.s.LastError = reason
	e.s.UpdatedAt = r.clock().UTC()

	r.emit(events.TypeCallFailed, e.s.InternalID,
		"Call failed: "+reason, map[string]any{"error": reason})

	return TransitionResult{Outcome: OutcomeApplied, From: from, To: StateFailed, Session: e.snapshotLocked()}
}

// RecordParticipant attaches a participant joined/left fact to a session
// without changing its lifecycle state. Re-announcing a known participant (or
// the departure of an unknown one) is reported as a duplicate.
func (r *Registry) RecordParticipant(providerCallID, participantID, name string, joined bool) TransitionResult {
	e, ok := r.providerEntry(providerCallID)
	if !ok {
		return TransitionResult{Outcome: OutcomeNotFound}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.s.State
	if state.Terminal() {
		return TransitionResult{Outcome: OutcomeInvalid, From: state, To: state, Session: e.snapshotLocked()}
	}

	_, present := e.s.Participants[participantID]
	if joined == present {
		return TransitionResult{Outcome: OutcomeDuplicate, From: state, To: state, Session: e.snapshotLocked()}
	}

	attrs := map[string]any{
		"participant_id":   participantID,
		"participant_name": name,
	}
	if joined {
		e.s.Participants[participantID] = name
		attrs["action"] = "joined"
		r.emit(events.TypeParticipantJoined, e.s.InternalID,
			"Participant "+name+" ("+participantID+") joined the meeting", attrs)
	} else {
		delete(e.s.Participants, participantID)
		attrs["action"] = "left"
		r.emit(events.TypeParticipantLeft, e.s.InternalID,
			"Participant "+name+" ("+participantID+") left the meeting", attrs)
	}
	e.s.UpdatedAt = r.clock().UTC()

	return TransitionResult{Outcome: OutcomeApplied, From: state, To: state, Session: e.snapshotLocked()}
}

// RecordAudio attaches an audio started/stopped fact to a session. A toggle
// that does not change the current audio state is reported as a duplicate,
// which makes duplicate media notifications idempotent.
func (r *Registry) RecordAudio(providerCallID string, started bool) TransitionResult {
	e, ok := r.providerEntry(providerCallID)
	if !ok {
		return TransitionResult{Outcome: OutcomeNotFound}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.s.State
	if state.Terminal() {
		return TransitionResult{Outcome: OutcomeInvalid, From: state, To: state, Session: e.snapshotLocked()}
	}
	if e.s.AudioActive == started {
		return TransitionResult{Outcome: OutcomeDuplicate, From: state, To: state, Session: e.snapshotLocked()}
	}

	e.s.AudioActive = started
	e.s.UpdatedAt = r.clock().UTC()

	if started {
		r.emit(events.TypeAudioStreamStarted, e.s.InternalID,
			"Audio stream started", map[string]any{"audio_active": true})
	} else {
		r.emit(events.TypeAudioStreamStopped, e.s.InternalID,
			"Audio stream stopped", map[string]any{"audio_active": false})
	}

	return TransitionResult{Outcome: OutcomeApplied, From: state, To: state, Session: e.snapshotLocked()}
}

func (r *Registry) LookupByInternalID(internalID string) (CallSession, error) {
	e, ok := r.internalEntry(internalID)
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (r *Registry) LookupByProviderID(providerCallID string) (CallSession, error) {
	e, ok := r.providerEntry(providerCallID)
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns a copy of all sessions ordered by creation time.
func (r *Registry) List() []CallSession {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byInternal))
	for _, e := range r.byInternal {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]CallSession, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InternalID < out[j].InternalID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns the number of sessions per state.
func (r *Registry) Stats() map[State]int {
	out := make(map[State]int)
	for _, s := range r.List() {
		out[s.State]++
	}
	return out
}

func (r *Registry) emit(t events.Type, callID, description string, attrs map[string]any) {
	if r.dispatcher != nil {
		r.dispatcher.Emit(t, callID, description, attrs)
	}
}

func (r *Registry) internalEntry(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byInternal[id]
	return e, ok
}

func (r *Registry) providerEntry(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byProvider[id]
	return e, ok
}

func (e *entry) snapshot() CallSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() CallSession {
	out := e.s
	if e.s.Participants != nil {
		out.Participants = make(map[string]string, len(e.s.Participants))
		for k, v := range e.s.Participants {
			out.Participants[k] = v
		}
	}
	return out
}
