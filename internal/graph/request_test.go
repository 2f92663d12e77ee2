package graph

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/akhan-msft/mediabotv2/internal/meeting"
)

func TestNewJoinRequest_CarriesDescriptorAndCallback(t *testing.T) {
	d := meeting.JoinDescriptor{MeetingID: "2908149825997", Passcode: "F2PgB"}
	req := NewJoinRequest(d, "https://bot.example.com/api/callback/notifications")

	if req.MeetingInfo.JoinMeetingID != "2908149825997" {
		t.Fatalf("expected join meeting id 2908149825997, got %q", req.MeetingInfo.JoinMeetingID)
	}
	if req.MeetingInfo.Passcode == nil || *req.MeetingInfo.Passcode != "F2PgB" {
		t.Fatalf("expected passcode F2PgB, got %v", req.MeetingInfo.Passcode)
	}
	if req.CallbackURI != "https://bot.example.com/api/callback/notifications" {
		t.Fatalf("unexpected callback uri %q", req.CallbackURI)
	}
	if len(req.RequestedModalities) != 1 || req.RequestedModalities[0] != "audio" {
		t.Fatalf("expected audio-only modalities, got %v", req.RequestedModalities)
	}
}

func TestNewJoinRequest_NoPasscodeOmitted(t *testing.T) {
	req := NewJoinRequest(meeting.JoinDescriptor{MeetingID: "m1"}, "https://bot.example.com/cb")
	if req.MeetingInfo.Passcode != nil {
		t.Fatalf("expected nil passcode, got %v", req.MeetingInfo.Passcode)
	}

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if strings.Contains(string(b), "passcode") {
		t.Fatalf("passcode must be omitted from payload: %s", b)
	}
	if !strings.Contains(string(b), "serviceHostedMediaConfig") {
		t.Fatalf("expected service-hosted media marker: %s", b)
	}
}

func TestParseThenBuild_RoundTrip(t *testing.T) {
	d, err := meeting.Parse("https://teams.example/meet/2908149825997?p=F2PgB")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	req := NewJoinRequest(d, "https://bot.example.com/cb")
	if req.MeetingInfo.JoinMeetingID != "2908149825997" {
		t.Fatalf("round trip lost meeting id: %q", req.MeetingInfo.JoinMeetingID)
	}
	if req.MeetingInfo.Passcode == nil || *req.MeetingInfo.Passcode != "F2PgB" {
		t.Fatalf("round trip lost passcode: %v", req.MeetingInfo.Passcode)
	}
}

func TestDisabledClient(t *testing.T) {
	c := Disabled{}
	if c.Ready() {
		t.Fatalf("disabled client must not report ready")
	}
	_, err := c.CreateCall(context.Background(), JoinRequest{})
	if err != ErrNotImplemented {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}
