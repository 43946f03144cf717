package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskpulse/internal/model"
	"taskpulse/internal/registry"
)

// BindingLister lists an owner's chats with their link time.
type BindingLister interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.Binding, error)
}

// LinkCodeIssuer hands out single-use codes the chat redeems with /link.
type LinkCodeIssuer interface {
	Issue(ctx context.Context, ownerID string) (string, error)
}

// ChannelHandler is the authenticated writer of the identity registry.
type ChannelHandler struct {
	registry registry.Registry
	lister   BindingLister
	codes    LinkCodeIssuer
	codeTTL  time.Duration
	logger   *zap.Logger
}

func NewChannelHandler(reg registry.Registry, lister BindingLister, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{registry: reg, lister: lister, logger: logger}
}

func (h *ChannelHandler) WithLinkCodes(codes LinkCodeIssuer, ttl time.Duration) *ChannelHandler {
	h.codes = codes
	h.codeTTL = ttl
	return h
}

// IssueLinkCode handles POST /channels/link-code
func (h *ChannelHandler) IssueLinkCode(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	if h.codes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "link codes are not enabled"})
		return
	}
	code, err := h.codes.Issue(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to issue link code", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue link code"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"code":       code,
		"command":    "/link " + code,
		"expires_in": int(h.codeTTL.Seconds()),
	})
}

// Link handles POST /channels/link
func (h *ChannelHandler) Link(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req struct {
		ChatID int64 `json:"chat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	// 已关联到其他账号的 chat 只能由该 chat 自己 /unlink 或用链接码改绑
	existing, found, err := h.registry.Lookup(ctx, req.ChatID)
	if err != nil {
		h.logger.Error("Failed to look up chat", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if found && existing.Linked() && existing.OwnerID != owner {
		c.JSON(http.StatusConflict, gin.H{"error": "chat is linked to another account"})
		return
	}

	if err := h.registry.Bind(ctx, req.ChatID, owner); err != nil {
		h.logger.Error("Failed to link chat", zap.Int64("chat_id", req.ChatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link chat"})
		return
	}
	h.logger.Info("Chat linked via API", zap.Int64("chat_id", req.ChatID), zap.String("owner_id", owner))
	c.JSON(http.StatusOK, gin.H{"status": "linked", "chat_id": req.ChatID})
}

// Unlink handles DELETE /channels/:chat_id. Only the owning account may unlink.
func (h *ChannelHandler) Unlink(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_id"})
		return
	}

	ctx := c.Request.Context()
	b, found, err := h.registry.Lookup(ctx, chatID)
	if err != nil {
		h.logger.Error("Failed to look up chat", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !found || b.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not linked to this account"})
		return
	}

	if err := h.registry.Unbind(ctx, chatID); err != nil {
		h.logger.Error("Failed to unlink chat", zap.Int64("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlink chat"})
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /channels
func (h *ChannelHandler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	bindings, err := h.lister.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list channels", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": bindings})
}
