package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskpulse/pkg/util"
)

const stateTTL = 10 * time.Minute

// OAuthFlow is satisfied by *oauth2.Config.
type OAuthFlow interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type CredentialStore interface {
	Save(ctx context.Context, ownerID string, tok *oauth2.Token) error
	Delete(ctx context.Context, ownerID string) error
}

// CalendarHandler runs the OAuth consent flow that stores an owner's
// calendar credentials. The state parameter is a short-lived signed token
// naming the owner.
type CalendarHandler struct {
	flow   OAuthFlow
	creds  CredentialStore
	secret string
	logger *zap.Logger
}

func NewCalendarHandler(flow OAuthFlow, creds CredentialStore, secret string, logger *zap.Logger) *CalendarHandler {
	return &CalendarHandler{flow: flow, creds: creds, secret: secret, logger: logger}
}

// Connect handles GET /calendar/connect
func (h *CalendarHandler) Connect(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	state, err := util.GeneratePurposeToken(owner, util.PurposeOAuthState, h.secret, stateTTL)
	if err != nil {
		h.logger.Error("Failed to sign oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	url := h.flow.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Callback handles GET /calendar/callback?state=...&code=...
func (h *CalendarHandler) Callback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}
	owner, err := util.ParsePurposeToken(state, util.PurposeOAuthState, h.secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
		return
	}

	ctx := c.Request.Context()
	tok, err := h.flow.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("OAuth code exchange failed", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}
	if err := h.creds.Save(ctx, owner, tok); err != nil {
		h.logger.Error("Failed to store calendar credentials", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.logger.Info("Calendar connected", zap.String("owner_id", owner))
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

// Disconnect handles DELETE /calendar. Events already created stay in place.
func (h *CalendarHandler) Disconnect(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	if err := h.creds.Delete(c.Request.Context(), owner); err != nil {
		h.logger.Error("Failed to delete calendar credentials", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}
