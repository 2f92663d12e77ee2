package signaling

import (
	"errors"
	"fmt"
)

// Notification is an inbound fact from the platform about a call's lifecycle,
// keyed by the provider-assigned call id.
type Notification struct {
	ProviderCallID string           `json:"providerCallId"`
	Kind           NotificationKind `json:"kind"`

	// Participant and Joined accompany participantChanged notifications.
	Participant *Participant `json:"participant,omitempty"`
	Joined      bool         `json:"joined,omitempty"`

	// MediaActive accompanies mediaChanged notifications.
	MediaActive *bool `json:"mediaActive,omitempty"`
}

type NotificationKind string

const (
	KindCallEstablished    NotificationKind = "callEstablished"
	KindParticipantChanged NotificationKind = "participantChanged"
	KindMediaChanged       NotificationKind = "mediaChanged"
	KindCallEnded          NotificationKind = "callEnded"
)

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var ErrInvalidNotification = errors.New("signaling: invalid notification")

// Validate checks structural requirements only; resolving the provider call
// id against known sessions is the ingestor's job.
func (n Notification) Validate() error {
	if n.ProviderCallID == "" {
		return fmt.Errorf("%w: providerCallId is required", ErrInvalidNotification)
	}
	switch n.Kind {
	case KindCallEstablished, KindCallEnded:
	case KindParticipantChanged:
		if n.Participant == nil || n.Participant.ID == "" {
			return fmt.Errorf("%w: participantChanged requires a participant", ErrInvalidNotification)
		}
	case KindMediaChanged:
		if n.MediaActive == nil {
			return fmt.Errorf("%w: mediaChanged requires mediaActive", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidNotification, n.Kind)
	}
	return nil
}
