package signaling

import (
	"log/slog"

	"github.com/akhan-msft/mediabotv2/internal/session"
)

// IngestOutcome classifies what ingesting a notification did.
//
// Ignored is not an error: unsolicited, stale and out-of-order notifications
// are acknowledged and dropped, and the platform is never asked to retry them.
type IngestOutcome string

const (
	IngestApplied   IngestOutcome = "applied"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestIgnored   IngestOutcome = "ignored"
)

type IngestResult struct {
	Outcome IngestOutcome
	// CallID is the internal session id, when the notification resolved.
	CallID string
}

// Ingestor resolves platform notifications against the session registry and
// applies the matching transition or sub-event.
type Ingestor struct {
	registry *session.Registry
	log      *slog.Logger
}

func NewIngestor(registry *session.Registry, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{registry: registry, log: log}
}

// Ingest applies a single notification. The only error is a malformed
// notification (reported synchronously to the caller, never retried); every
// resolvable delivery yields a non-error outcome.
func (i *Ingestor) Ingest(n Notification) (IngestResult, error) {
	if err := n.Validate(); err != nil {
		return IngestResult{}, err
	}

	var res session.TransitionResult
	switch n.Kind {
	case KindCallEstablished:
		res = i.registry.TransitionByProviderID(n.ProviderCallID, session.StateEstablished)
	case KindCallEnded:
		res = i.registry.TransitionByProviderID(n.ProviderCallID, session.StateEnded)
	case KindParticipantChanged:
		res = i.registry.RecordParticipant(n.ProviderCallID, n.Participant.ID, n.Participant.Name, n.Joined)
	case KindMediaChanged:
		res = i.ingestMedia(n)
	}

	return i.report(n, res), nil
}

// ingestMedia drives the media_active lifecycle edge on the first audio start
// and records later toggles as sub-events.
func (i *Ingestor) ingestMedia(n Notification) session.TransitionResult {
	if !*n.MediaActive {
		return i.registry.RecordAudio(n.ProviderCallID, false)
	}
	res := i.registry.TransitionByProviderID(n.ProviderCallID, session.StateMediaActive)
	if res.Outcome == session.OutcomeDuplicate {
		// Already media_active: either a duplicate delivery or a restart
		// after a stop. The audio flag distinguishes the two.
		return i.registry.RecordAudio(n.ProviderCallID, true)
	}
	return res
}

func (i *Ingestor) report(n Notification, res session.TransitionResult) IngestResult {
	switch res.Outcome {
	case session.OutcomeApplied:
		return IngestResult{Outcome: IngestApplied, CallID: res.Session.InternalID}
	case session.OutcomeDuplicate:
		i.log.Info("duplicate notification ignored",
			"provider_call_id", n.ProviderCallID, "kind", string(n.Kind),
			"call_id", res.Session.InternalID, "state", string(res.Session.State))
		return IngestResult{Outcome: IngestDuplicate, CallID: res.Session.InternalID}
	case session.OutcomeInvalid:
		i.log.Info("stale notification ignored",
			"provider_call_id", n.ProviderCallID, "kind", string(n.Kind),
			"call_id", res.Session.InternalID, "state", string(res.Session.State))
		return IngestResult{Outcome: IngestIgnored, CallID: res.Session.InternalID}
	default: // not found
		i.log.Info("notification for unknown call dropped",
			"provider_call_id", n.ProviderCallID, "kind", string(n.Kind))
		return IngestResult{Outcome: IngestIgnored}
	}
}
