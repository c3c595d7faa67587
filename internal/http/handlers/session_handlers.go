package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/http/middleware"
	"github.com/you/accountportal/internal/observability"
	"go.uber.org/zap"
)

// DefaultKeepAlive is the interval between SSE ping events
const DefaultKeepAlive = 25 * time.Second

// SessionHandlers drives the account lifecycle over HTTP. The lifecycle itself is
// resolved per request by the session middleware.
type SessionHandlers struct {
	keepAlive time.Duration
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(keepAlive time.Duration) *SessionHandlers {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &SessionHandlers{keepAlive: keepAlive}
}

// IdentifyRequest represents the identification step
type IdentifyRequest struct {
	Identifier string `json:"identifier"`
}

// LoginRequest represents a credential submission. Identifier defaults to the pending one.
type LoginRequest struct {
	Identifier string `json:"identifier,omitempty"`
	Secret     string `json:"secret"`
}

// SignupRequest represents account creation. Identifier defaults to the pending one.
type SignupRequest struct {
	Identifier string `json:"identifier,omitempty"`
	Secret     string `json:"secret"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
}

// SelectProfileRequest represents profile selection
type SelectProfileRequest struct {
	ProfileID string `json:"profile_id" binding:"required"`
}

// Resume returns the session view resumed by the middleware
func (h *SessionHandlers) Resume(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": middleware.View(c)})
}

// Identify starts the credential step for a mobile number
func (h *SessionHandlers) Identify(c *gin.Context) {
	var req IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	result, err := middleware.Lifecycle(c).BeginIdentification(c.Request.Context(), req.Identifier)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Pending returns the identifier awaiting a credential
func (h *SessionHandlers) Pending(c *gin.Context) {
	identifier, ok := middleware.Lifecycle(c).PendingIdentifier(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No sign-in in progress."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"identifier": identifier}})
}

// Login handles the password step
func (h *SessionHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	ctx := c.Request.Context()
	lifecycle := middleware.Lifecycle(c)
	identifier := req.Identifier
	if identifier == "" {
		identifier, _ = lifecycle.PendingIdentifier(ctx)
	}

	result, err := lifecycle.Authenticate(ctx, identifier, req.Secret)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Signup handles account creation
func (h *SessionHandlers) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	ctx := c.Request.Context()
	lifecycle := middleware.Lifecycle(c)
	identifier := req.Identifier
	if identifier == "" {
		identifier, _ = lifecycle.PendingIdentifier(ctx)
	}

	result, err := lifecycle.CreateAccount(ctx, identifier, req.Secret, req.Name, req.Avatar)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

// SelectProfile chooses the active profile
func (h *SessionHandlers) SelectProfile(c *gin.Context) {
	var req SelectProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	view, err := middleware.Lifecycle(c).SelectProfile(c.Request.Context(), req.ProfileID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// Logout clears every session entry of the device
func (h *SessionHandlers) Logout(c *gin.Context) {
	if err := middleware.Lifecycle(c).Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"state": domain.StateAnonymous}})
}

// Events streams session changes made by other tabs of the same device as server-sent events.
// The first event carries the current view.
func (h *SessionHandlers) Events(c *gin.Context) {
	ctx := c.Request.Context()
	changes := make(chan domain.CacheChange, 16)

	cancel, err := middleware.Cache(c).OnExternalChange(ctx, func(change domain.CacheChange) {
		select {
		case changes <- change:
		default:
			// A slow client only needs to know that something changed
		}
	}, domain.SessionKeys...)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.SSEvent("session", middleware.View(c))
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-changes:
			observability.GetLogger(ctx).Debug("session changed elsewhere",
				zap.String("key", string(change.Key)),
				zap.Bool("removed", change.Removed),
			)
			c.SSEvent("change", change)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
