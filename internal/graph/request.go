package graph

import "github.com/akhan-msft/mediabotv2/internal/meeting"

// JoinRequest is the call-creation payload sent to the platform.
//
// The shape follows the Graph communications create-call contract: audio-only
// modality, service-hosted media (the platform mixes audio; this bot only
// manages signaling), and the callback address future notifications must use.
type JoinRequest struct {
	ODataType           string      `json:"@odata.type"`
	CallbackURI         string      `json:"callbackUri"`
	RequestedModalities []string    `json:"requestedModalities"`
	MediaConfig         MediaConfig `json:"mediaConfig"`
	MeetingInfo         MeetingInfo `json:"meetingInfo"`
}

type MediaConfig struct {
	ODataType string `json:"@odata.type"`
}

type MeetingInfo struct {
	ODataType     string  `json:"@odata.type"`
	JoinMeetingID string  `json:"joinMeetingId"`
	Passcode      *string `json:"passcode,omitempty"`
}

const (
	odataCall               = "#microsoft.graph.call"
	odataServiceHostedMedia = "#microsoft.graph.serviceHostedMediaConfig"
	odataJoinMeetingIDInfo  = "#microsoft.graph.joinMeetingIdMeetingInfo"
)

// NewJoinRequest composes a call-creation request from a parsed join
// descriptor and the signaling callback address. It performs no I/O and cannot
// fail given a valid descriptor.
func NewJoinRequest(d meeting.JoinDescriptor, callbackURI string) JoinRequest {
	req := JoinRequest{
		ODataType:           odataCall,
		CallbackURI:         callbackURI,
		RequestedModalities: []string{"audio"},
		MediaConfig:         MediaConfig{ODataType: odataServiceHostedMedia},
		MeetingInfo: MeetingInfo{
			ODataType:     odataJoinMeetingIDInfo,
			JoinMeetingID: d.MeetingID,
		},
	}
	if d.Passcode != "" {
		pc := d.Passcode
		req.MeetingInfo.Passcode = &pc
	}
	return req
}
