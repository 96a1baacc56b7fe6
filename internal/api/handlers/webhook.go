package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// voiceWebhook receives provider callbacks. The signature is checked over
// the raw body before anything parses it.
func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	body := append([]byte(nil), ctx.Body()...)

	header := func(name string) string { return ctx.Get(name) }
	verified, err := h.verifier.Verify(header, body)
	if err != nil {
		h.logger.Warn("webhook rejected", zap.String("ip", ctx.IP()), zap.Error(err))
		return translateError(err)
	}

	outcome, err := h.webhooks.Dispatch(ctx.UserContext(), body, verified)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true, "outcome": outcome})
}
