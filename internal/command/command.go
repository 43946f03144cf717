// Package command serves the inbound chat commands that bind a chat to an
// owner: /start and /link carry an optional owner argument, /unlink removes
// it. With link codes enabled the argument must be a code issued to the
// owner by the app; otherwise it is taken as the owner id itself.
package command

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"taskpulse/internal/model"
	"taskpulse/internal/registry"
)

const helpText = `Commands:
/link <code> - receive reminders for the account that issued the code
/unlink - stop reminders in this chat
/status - show what this chat is linked to`

// CodeRedeemer resolves a single-use link code to its owner.
type CodeRedeemer interface {
	Redeem(ctx context.Context, code string) (ownerID string, ok bool, err error)
}

// Handler applies chat commands to the registry.
type Handler struct {
	registry registry.Registry
	codes    CodeRedeemer
	logger   *zap.Logger
}

func NewHandler(reg registry.Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: reg, logger: logger}
}

// WithLinkCodes makes /start and /link accept only issued link codes.
func (h *Handler) WithLinkCodes(codes CodeRedeemer) *Handler {
	h.codes = codes
	return h
}

// owner 把命令参数解析为 owner id；ok=false 表示链接码无效
func (h *Handler) owner(ctx context.Context, arg string) (string, bool, error) {
	if arg == model.Unlinked || h.codes == nil {
		return arg, true, nil
	}
	return h.codes.Redeem(ctx, arg)
}

// ParseCommand splits "/link@bot abc" into ("link", "abc").
func ParseCommand(text string) (cmd, arg string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", "", false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(cmd), arg, true
}

// HandleCommand runs one command for chatID and returns the reply text.
// Repeating a command is harmless.
func (h *Handler) HandleCommand(ctx context.Context, chatID int64, text string) (string, error) {
	cmd, arg, ok := ParseCommand(text)
	if !ok {
		return helpText, nil
	}
	log := h.logger.With(zap.Int64("chat_id", chatID), zap.String("command", cmd))

	switch cmd {
	case "start", "link":
		owner, valid, err := h.owner(ctx, arg)
		if err != nil {
			log.Error("Failed to redeem link code", zap.Error(err))
			return "", fmt.Errorf("redeem link code for chat %d: %w", chatID, err)
		}
		if !valid {
			log.Info("Rejected invalid link code")
			return "That link code is invalid or has expired. Request a new one in the app.", nil
		}
		if err := h.registry.Bind(ctx, chatID, owner); err != nil {
			log.Error("Failed to bind chat", zap.Error(err))
			return "", fmt.Errorf("bind chat %d: %w", chatID, err)
		}
		if owner == model.Unlinked {
			log.Info("Chat connected without owner")
			return fmt.Sprintf("Connected. Link this chat with /link <code>, or from the app using chat id %d.", chatID), nil
		}
		log.Info("Chat linked", zap.String("owner_id", owner))
		return fmt.Sprintf("Linked to %s. Reminders will arrive here.", owner), nil

	case "unlink":
		if err := h.registry.Unbind(ctx, chatID); err != nil {
			log.Error("Failed to unbind chat", zap.Error(err))
			return "", fmt.Errorf("unbind chat %d: %w", chatID, err)
		}
		log.Info("Chat unlinked")
		return "Unlinked. This chat will no longer receive reminders.", nil

	case "status":
		b, ok, err := h.registry.Lookup(ctx, chatID)
		if err != nil {
			return "", fmt.Errorf("lookup chat %d: %w", chatID, err)
		}
		switch {
		case !ok:
			return "This chat is not connected. Send /start to connect.", nil
		case !b.Linked():
			return "Connected but not linked to an account yet.", nil
		default:
			return fmt.Sprintf("Linked to %s since %s.", b.OwnerID, b.LinkedAt.Format("2006-01-02 15:04")), nil
		}

	default:
		return helpText, nil
	}
}
