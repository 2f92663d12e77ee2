package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/akhan-msft/mediabotv2/internal/events"
	"github.com/akhan-msft/mediabotv2/internal/graph"
	"github.com/akhan-msft/mediabotv2/internal/meeting"
	"github.com/akhan-msft/mediabotv2/internal/session"
)

// Service orchestrates call setup: it turns an operator join request or an
// inbound invitation into a tracked session, and drives the outbound
// call-creation exchange with the platform.
type Service struct {
	registry    *session.Registry
	client      graph.Client
	dispatcher  *events.Dispatcher
	callbackURI string
	joinTimeout time.Duration
	log         *slog.Logger
}

func NewService(registry *session.Registry, client graph.Client, dispatcher *events.Dispatcher, callbackURI string, joinTimeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if joinTimeout <= 0 {
		joinTimeout = 30 * time.Second
	}
	return &Service{
		registry:    registry,
		client:      client,
		dispatcher:  dispatcher,
		callbackURI: callbackURI,
		joinTimeout: joinTimeout,
		log:         log,
	}
}

// PlatformReady reports whether outbound joins are wired to a real backend.
func (s *Service) PlatformReady() bool {
	return s.client != nil && s.client.Ready()
}

// JoinMeeting parses the meeting reference, creates a session and issues the
// outbound call-creation request.
//
// The session lock is never held across the platform exchange: the session is
// created first, the call runs under its own timeout, and the outcome is
// applied afterwards via BindProviderID or Fail. A request that never
// resolves leaves a Failed session, never a dangling Requested one.
func (s *Service) JoinMeeting(ctx context.Context, meetingURL string) (session.CallSession, error) {
	d, err := meeting.Parse(meetingURL)
	if err != nil {
		s.emit(events.TypeCallFailed, events.CallIDUnknown,
			"Failed to join meeting: "+err.Error(),
			map[string]any{"meeting_url": meetingURL, "error": err.Error()})
		return session.CallSession{}, err
	}

	sess := s.registry.Create(d, session.OriginOutbound)
	req := graph.NewJoinRequest(d, s.callbackURI)

	callCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	res, err := s.client.CreateCall(callCtx, req)
	if err != nil {
		reason := failureReason(callCtx, err)
		s.registry.Fail(sess.InternalID, reason)
		failed, _ := s.registry.LookupByInternalID(sess.InternalID)
		return failed, fmt.Errorf("signaling: join meeting: %w", err)
	}

	if err := s.registry.BindProviderID(sess.InternalID, res.ProviderCallID); err != nil {
		s.registry.Fail(sess.InternalID, err.Error())
		failed, _ := s.registry.LookupByInternalID(sess.InternalID)
		return failed, fmt.Errorf("signaling: join meeting: %w", err)
	}

	s.log.Info("join request accepted",
		"call_id", sess.InternalID, "provider_call_id", res.ProviderCallID,
		"meeting_id", d.MeetingID, "provider_state", res.State)

	bound, err := s.registry.LookupByInternalID(sess.InternalID)
	if err != nil {
		return session.CallSession{}, err
	}
	return bound, nil
}

// HandleInvite records an inbound meeting invitation as a new session.
func (s *Service) HandleInvite(providerMeetingRef string) (session.CallSession, error) {
	d, err := meeting.Parse(providerMeetingRef)
	if err != nil {
		s.emit(events.TypeCallFailed, events.CallIDUnknown,
			"Failed to process incoming call invitation: "+err.Error(),
			map[string]any{"meeting_ref": providerMeetingRef, "error": err.Error()})
		return session.CallSession{}, err
	}
	return s.registry.Create(d, session.OriginInbound), nil
}

func (s *Service) emit(t events.Type, callID, description string, attrs map[string]any) {
	if s.dispatcher != nil {
		s.dispatcher.Emit(t, callID, description, attrs)
	}
}

func failureReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, graph.ErrNotImplemented):
		return "platform client not configured"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "join request timed out"
	default:
		return err.Error()
	}
}
