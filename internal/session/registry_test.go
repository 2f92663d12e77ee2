package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akhan-msft/mediabotv2/internal/events"
	"github.com/akhan-msft/mediabotv2/internal/meeting"
)

func newTestRegistry() (*Registry, *events.MemorySink) {
	sink := events.NewMemorySink()
	now := time.Unix(1700000000, 0).UTC()
	dispatcher := events.NewDispatcher(sink).WithClock(func() time.Time { return now })
	reg := NewRegistry(dispatcher).WithClock(func() time.Time { return now })
	return reg, sink
}

func TestCreate_InboundEmitsInvitation(t *testing.T) {
	reg, sink := newTestRegistry()

	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginInbound)
	if s.State != StateRequested {
		t.Fatalf("expected requested, got %q", s.State)
	}
	if s.InternalID == "" {
		t.Fatalf("expected internal id to be assigned")
	}

	got := sink.ByType(events.TypeBotInvitedToMeeting)
	if len(got) != 1 {
		t.Fatalf("expected 1 invitation event, got %d", len(got))
	}
	if got[0].CallID != s.InternalID {
		t.Fatalf("event call id mismatch: %q vs %q", got[0].CallID, s.InternalID)
	}
}

func TestCreate_OutboundStaysSilentUntilBind(t *testing.T) {
	reg, sink := newTestRegistry()

	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if n := len(sink.Events()); n != 0 {
		t.Fatalf("expected no events before bind, got %d", n)
	}

	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected bind err: %v", err)
	}
	if n := len(sink.ByType(events.TypeBotInvitedToMeeting)); n != 1 {
		t.Fatalf("expected 1 invitation event after bind, got %d", n)
	}
}

func TestBindProviderID_ConflictMutatesNeitherSession(t *testing.T) {
	reg, _ := newTestRegistry()

	a := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	b := reg.Create(meeting.JoinDescriptor{MeetingID: "m2"}, OriginOutbound)

	if err := reg.BindProviderID(a.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := reg.BindProviderID(b.InternalID, "P1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	gotA, _ := reg.LookupByInternalID(a.InternalID)
	gotB, _ := reg.LookupByInternalID(b.InternalID)
	if gotA.ProviderCallID != "P1" {
		t.Fatalf("first binding lost: %+v", gotA)
	}
	if gotB.ProviderCallID != "" {
		t.Fatalf("second session must stay unbound: %+v", gotB)
	}
}

func TestBindProviderID_Rebind(t *testing.T) {
	reg, _ := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)

	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// Same binding again is a no-op, a different id is a conflict.
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("expected idempotent rebind, got %v", err)
	}
	if err := reg.BindProviderID(s.InternalID, "P2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second id, got %v", err)
	}
}

func TestTransition_DuplicateEstablishedIsNoOp(t *testing.T) {
	reg, sink := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	first := reg.TransitionByProviderID("P1", StateEstablished)
	if first.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %q", first.Outcome)
	}
	second := reg.TransitionByProviderID("P1", StateEstablished)
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", second.Outcome)
	}

	if n := len(sink.ByType(events.TypeCallEstablished)); n != 1 {
		t.Fatalf("expected exactly one CallEstablished event, got %d", n)
	}
	if n := len(sink.ByType(events.TypeBotJoinedCall)); n != 1 {
		t.Fatalf("expected exactly one BotJoinedCall event, got %d", n)
	}
}

func TestTransition_RejectsIllegalEdges(t *testing.T) {
	reg, _ := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Ended before established is out-of-order delivery; the graph rejects it.
	res := reg.TransitionByProviderID("P1", StateEnded)
	if res.Outcome != OutcomeInvalid {
		t.Fatalf("expected invalid transition, got %q", res.Outcome)
	}
	got, _ := reg.LookupByProviderID("P1")
	if got.State != StateRequested {
		t.Fatalf("state must be unchanged, got %q", got.State)
	}

	// Terminal sessions never restart.
	reg.TransitionByProviderID("P1", StateEstablished)
	reg.TransitionByProviderID("P1", StateEnded)
	res = reg.TransitionByProviderID("P1", StateEstablished)
	if res.Outcome != OutcomeInvalid {
		t.Fatalf("expected invalid transition on ended session, got %q", res.Outcome)
	}
	got, _ = reg.LookupByProviderID("P1")
	if got.State != StateEnded {
		t.Fatalf("state must stay ended, got %q", got.State)
	}
}

func TestTransition_FullLifecycle(t *testing.T) {
	reg, sink := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1", Passcode: "pc"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	for _, target := range []State{StateEstablished, StateMediaActive, StateEnded} {
		if res := reg.TransitionByProviderID("P1", target); res.Outcome != OutcomeApplied {
			t.Fatalf("expected applied for %q, got %q", target, res.Outcome)
		}
	}

	got, _ := reg.LookupByProviderID("P1")
	if got.State != StateEnded {
		t.Fatalf("expected ended, got %q", got.State)
	}
	if !got.AudioActive {
		t.Fatalf("expected audio flag set by media_active entry")
	}

	// BotInvitedToMeeting, CallEstablished, BotJoinedCall, AudioStreamStarted, CallEnded.
	if n := len(sink.Events()); n != 5 {
		t.Fatalf("expected 5 events, got %d", n)
	}
}

func TestFail_FromAnyNonTerminalAndIdempotent(t *testing.T) {
	reg, sink := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)

	res := reg.Fail(s.InternalID, "join request timed out")
	if res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %q", res.Outcome)
	}
	got, _ := reg.LookupByInternalID(s.InternalID)
	if got.State != StateFailed || got.LastError != "join request timed out" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if res := reg.Fail(s.InternalID, "again"); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", res.Outcome)
	}
	if n := len(sink.ByType(events.TypeCallFailed)); n != 1 {
		t.Fatalf("expected one CallFailed event, got %d", n)
	}
	// The reason recorded first wins.
	got, _ = reg.LookupByInternalID(s.InternalID)
	if got.LastError != "join request timed out" {
		t.Fatalf("last error must not change on repeat fail, got %q", got.LastError)
	}
}

func TestFail_DoesNotTouchEndedSessions(t *testing.T) {
	reg, _ := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	reg.TransitionByProviderID("P1", StateEstablished)
	reg.TransitionByProviderID("P1", StateEnded)

	if res := reg.Fail(s.InternalID, "late failure"); res.Outcome != OutcomeInvalid {
		t.Fatalf("expected invalid, got %q", res.Outcome)
	}
}

func TestRecordParticipant_RosterAndDuplicates(t *testing.T) {
	reg, sink := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	reg.TransitionByProviderID("P1", StateEstablished)

	if res := reg.RecordParticipant("P1", "u1", "Alice", true); res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %q", res.Outcome)
	}
	if res := reg.RecordParticipant("P1", "u1", "Alice", true); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate join, got %q", res.Outcome)
	}
	if res := reg.RecordParticipant("P1", "u2", "Bob", false); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate leave for unknown participant, got %q", res.Outcome)
	}
	if res := reg.RecordParticipant("P1", "u1", "Alice", false); res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied leave, got %q", res.Outcome)
	}

	// Session state never moved.
	got, _ := reg.LookupByProviderID("P1")
	if got.State != StateEstablished {
		t.Fatalf("participant facts must not change state, got %q", got.State)
	}
	if len(sink.ByType(events.TypeParticipantJoined)) != 1 || len(sink.ByType(events.TypeParticipantLeft)) != 1 {
		t.Fatalf("expected one joined and one left event")
	}
}

func TestRecordAudio_TogglesAndDuplicates(t *testing.T) {
	reg, sink := newTestRegistry()
	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	reg.TransitionByProviderID("P1", StateEstablished)
	reg.TransitionByProviderID("P1", StateMediaActive)

	// MediaActive entry already marked audio active.
	if res := reg.RecordAudio("P1", true); res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate start, got %q", res.Outcome)
	}
	if res := reg.RecordAudio("P1", false); res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied stop, got %q", res.Outcome)
	}
	if res := reg.RecordAudio("P1", true); res.Outcome != OutcomeApplied {
		t.Fatalf("expected applied restart, got %q", res.Outcome)
	}

	if n := len(sink.ByType(events.TypeAudioStreamStarted)); n != 2 {
		t.Fatalf("expected 2 start events (transition + restart), got %d", n)
	}
	if n := len(sink.ByType(events.TypeAudioStreamStopped)); n != 1 {
		t.Fatalf("expected 1 stop event, got %d", n)
	}
}

func TestLookup_NotFound(t *testing.T) {
	reg, _ := newTestRegistry()
	if _, err := reg.LookupByProviderID("P9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.LookupByInternalID("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if res := reg.TransitionByProviderID("P9", StateEstablished); res.Outcome != OutcomeNotFound {
		t.Fatalf("expected not_found outcome, got %q", res.Outcome)
	}
}

func TestStats_CountsByState(t *testing.T) {
	reg, _ := newTestRegistry()
	a := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	reg.Create(meeting.JoinDescriptor{MeetingID: "m2"}, OriginInbound)
	if err := reg.BindProviderID(a.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	reg.TransitionByProviderID("P1", StateEstablished)

	stats := reg.Stats()
	if stats[StateEstablished] != 1 || stats[StateRequested] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// gateSink blocks its first delivery until released, so tests can observe
// which registry operations wait behind a slow sink.
type gateSink struct {
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func (s *gateSink) Deliver(events.Event) {
	s.first.Do(func() {
		s.entered <- struct{}{}
		<-s.release
	})
}

func TestBindProviderID_SlowSinkDoesNotBlockOtherSessions(t *testing.T) {
	gate := &gateSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	reg := NewRegistry(events.NewDispatcher(gate))

	a := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	b := reg.Create(meeting.JoinDescriptor{MeetingID: "m2"}, OriginOutbound)

	bindDone := make(chan error, 1)
	go func() { bindDone <- reg.BindProviderID(a.InternalID, "P1") }()

	// The bind is now stuck inside its announcement delivery.
	<-gate.entered

	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		if _, err := reg.LookupByInternalID(b.InternalID); err != nil {
			t.Errorf("lookup of unrelated session: %v", err)
		}
		if err := reg.BindProviderID(b.InternalID, "P2"); err != nil {
			t.Errorf("bind of unrelated session: %v", err)
		}
		if res := reg.TransitionByProviderID("P2", StateEstablished); res.Outcome != OutcomeApplied {
			t.Errorf("transition of unrelated session: %q", res.Outcome)
		}
		reg.Create(meeting.JoinDescriptor{MeetingID: "m3"}, OriginOutbound)
	}()

	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("operations on unrelated sessions blocked behind a slow event sink")
	}

	close(gate.release)
	if err := <-bindDone; err != nil {
		t.Fatalf("unexpected bind err: %v", err)
	}

	got, err := reg.LookupByProviderID("P1")
	if err != nil || got.InternalID != a.InternalID {
		t.Fatalf("provider index not updated: %+v, %v", got, err)
	}
}

func TestTransition_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	reg, sink := newTestRegistry()

	s := reg.Create(meeting.JoinDescriptor{MeetingID: "m1"}, OriginOutbound)
	if err := reg.BindProviderID(s.InternalID, "P1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	const workers = 8
	outcomes := make(chan Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- reg.TransitionByProviderID("P1", StateEstablished).Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	applied, duplicate := 0, 0
	for o := range outcomes {
		switch o {
		case OutcomeApplied:
			applied++
		case OutcomeDuplicate:
			duplicate++
		default:
			t.Fatalf("unexpected outcome %q", o)
		}
	}
	if applied != 1 || duplicate != workers-1 {
		t.Fatalf("expected 1 applied and %d duplicates, got %d/%d", workers-1, applied, duplicate)
	}
	if n := len(sink.ByType(events.TypeCallEstablished)); n != 1 {
		t.Fatalf("expected exactly 1 established event, got %d", n)
	}
}

func TestTransition_ParallelLifecyclesOnSeparateSessions(t *testing.T) {
	reg, sink := newTestRegistry()

	ids := []string{"P1", "P2"}
	var wg sync.WaitGroup
	for _, pid := range ids {
		s := reg.Create(meeting.JoinDescriptor{MeetingID: "m" + pid}, OriginOutbound)
		if err := reg.BindProviderID(s.InternalID, pid); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			reg.TransitionByProviderID(pid, StateEstablished)
			reg.RecordParticipant(pid, "u1", "Alice", true)
			reg.TransitionByProviderID(pid, StateMediaActive)
			reg.TransitionByProviderID(pid, StateEnded)
		}(pid)
	}
	wg.Wait()

	for _, pid := range ids {
		got, err := reg.LookupByProviderID(pid)
		if err != nil {
			t.Fatalf("lookup %s: %v", pid, err)
		}
		if got.State != StateEnded {
			t.Fatalf("session %s: expected ended, got %q", pid, got.State)
		}
	}
	if n := len(sink.ByType(events.TypeCallEnded)); n != len(ids) {
		t.Fatalf("expected %d ended events, got %d", len(ids), n)
	}
}
