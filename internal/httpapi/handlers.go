package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akhan-msft/mediabotv2/internal/auth"
	"github.com/akhan-msft/mediabotv2/internal/eventfeed"
	"github.com/akhan-msft/mediabotv2/internal/graph"
	"github.com/akhan-msft/mediabotv2/internal/meeting"
	"github.com/akhan-msft/mediabotv2/internal/session"
	"github.com/akhan-msft/mediabotv2/internal/signaling"
	"github.com/akhan-msft/mediabotv2/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal modules, return JSON.
//
// Typed outcomes from the core map onto status codes here; stale or unknown
// notifications are acknowledged with 200 so the platform never retries them.
type Handlers struct {
	Signaling *signaling.Service
	Ingestor  *signaling.Ingestor
	Registry  *session.Registry
	Feed      *eventfeed.Hub
	Auth      *auth.Manager

	// OperatorKey is the shared credential Login exchanges for a bearer token.
	OperatorKey string

	StartedAt time.Time
}

// --- Auth ---

type loginRequest struct {
	OperatorID  string `json:"operator_id"`
	OperatorKey string `json:"operator_key"`
}

// Login exchanges the shared operator key for a short-lived access token.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.OperatorKey == "" {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.OperatorKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, operator_key required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.OperatorKey), []byte(h.OperatorKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid operator key"})
		return
	}
	tok, err := h.Auth.IssueAccessToken(time.Now(), req.OperatorID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok, "token_type": "Bearer"})
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"platform_ready": h.Signaling != nil && h.Signaling.PlatformReady(),
	})
}

func (h Handlers) Status(c *gin.Context) {
	ready := h.Signaling != nil && h.Signaling.PlatformReady()

	var sessions map[session.State]int
	if h.Registry != nil {
		sessions = h.Registry.Stats()
	}
	feedClients := 0
	if h.Feed != nil {
		feedClients = h.Feed.ClientCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"ready":  ready,
			"status": platformStatus(ready),
		},
		"server": gin.H{
			"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
			"feed_clients":   feedClients,
		},
		"capabilities": gin.H{
			"can_join_meetings": ready,
			"can_log_events":    true,
			"media_processing":  false, // signaling only, media never transits this process
		},
		"sessions": sessions,
	})
}

func platformStatus(ready bool) string {
	if ready {
		return "ready"
	}
	return "not configured"
}

// --- Callbacks ---

type incomingCallRequest struct {
	ProviderMeetingRef string `json:"providerMeetingRef" binding:"required"`
}

// HandleIncomingCall records a platform invitation as a new session.
func (h Handlers) HandleIncomingCall(c *gin.Context) {
	log := logger.FromGin(c)

	var req incomingCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "providerMeetingRef is required"})
		return
	}

	s, err := h.Signaling.HandleInvite(req.ProviderMeetingRef)
	if err != nil {
		var pe *meeting.ParseError
		if errors.As(err, &pe) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed meeting reference"})
			return
		}
		log.Error("incoming call handling failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to process callback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "callback processed", "call_id": s.InternalID})
}

// HandleNotification ingests a platform lifecycle notification. Unknown and
// stale notifications are acknowledged, never surfaced as failures.
func (h Handlers) HandleNotification(c *gin.Context) {
	var n signaling.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Ingestor.Ingest(n)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := gin.H{"message": "notification processed", "outcome": string(res.Outcome)}
	if res.CallID != "" {
		out["call_id"] = res.CallID
	}
	c.JSON(http.StatusOK, out)
}

// --- Manual join ---

type joinMeetingRequest struct {
	MeetingURL string `json:"meetingUrl" binding:"required"`
}

func (h Handlers) JoinMeeting(c *gin.Context) {
	var req joinMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "meetingUrl is required"})
		return
	}

	s, err := h.Signaling.JoinMeeting(c.Request.Context(), req.MeetingURL)
	if err != nil {
		h.writeJoinError(c, s, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":          "join meeting request accepted",
		"call_id":          s.InternalID,
		"provider_call_id": s.ProviderCallID,
	})
}

func (h Handlers) writeJoinError(c *gin.Context, s session.CallSession, err error) {
	log := logger.FromGin(c)

	var pe *meeting.ParseError
	switch {
	case errors.As(err, &pe):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed meeting reference"})
	case errors.Is(err, graph.ErrNotImplemented):
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "platform client not configured", "call_id": s.InternalID})
	case errors.Is(err, session.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "provider call id already bound", "call_id": s.InternalID})
	default:
		log.Error("join meeting failed", "call_id", s.InternalID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "join meeting failed", "call_id": s.InternalID})
	}
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Registry.List()})
}

func (h Handlers) GetCall(c *gin.Context) {
	id := c.Param("call_id")
	s, err := h.Registry.LookupByInternalID(id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Event feed ---

func (h Handlers) StreamEvents(c *gin.Context) {
	h.Feed.ServeStream(c.Writer, c.Request)
}
