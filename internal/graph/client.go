package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/akhan-msft/mediabotv2/internal/config"
)

// ErrNotImplemented marks an operation that is not wired to a real platform
// backend. Callers treat it as a first-class outcome, not a crash.
var ErrNotImplemented = errors.New("graph: platform client not configured")

// CallResult is the platform's answer to a call-creation request.
type CallResult struct {
	ProviderCallID string
	State          string
}

// Client is the provider-agnostic boundary to the conferencing platform.
//
// Rules:
// - No platform HTTP calls outside this package.
// - Implementations must honor ctx cancellation; callers bound every request
//   with a timeout and must never hold session locks while waiting.
type Client interface {
	Name() string
	Ready() bool
	CreateCall(ctx context.Context, req JoinRequest) (CallResult, error)
}

// Disabled is the client used when platform credentials are absent.
// Every operation reports ErrNotImplemented.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }
func (Disabled) Ready() bool  { return false }

func (Disabled) CreateCall(ctx context.Context, req JoinRequest) (CallResult, error) {
	return CallResult{}, ErrNotImplemented
}

// HTTPClient talks to the Graph communications API using the client
// credentials flow. The oauth2 transport caches and refreshes tokens.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(cfg config.Config) *HTTPClient {
	cc := clientcredentials.Config{
		ClientID:     cfg.Bot.AppID,
		ClientSecret: cfg.Bot.AppSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return &HTTPClient{
		baseURL: cfg.Graph.BaseURL,
		http:    cc.Client(context.Background()),
	}
}

func (c *HTTPClient) Name() string { return "graph" }
func (c *HTTPClient) Ready() bool  { return true }

// CreateCall issues the outbound call-creation request. Transient failures
// (network, auth, 5xx) surface as plain errors; the caller decides what they
// mean for the session.
func (c *HTTPClient) CreateCall(ctx context.Context, req JoinRequest) (CallResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("graph: encode call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/communications/calls", bytes.NewReader(body))
	if err != nil {
		return CallResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("graph: create call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return CallResult{}, fmt.Errorf("graph: create call: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CallResult{}, fmt.Errorf("graph: decode call response: %w", err)
	}
	if out.ID == "" {
		return CallResult{}, errors.New("graph: call response missing id")
	}
	return CallResult{ProviderCallID: out.ID, State: out.State}, nil
}
