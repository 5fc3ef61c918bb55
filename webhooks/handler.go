package webhooks

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"canvaskit-backend/services"

	"github.com/gin-gonic/gin"
)

// Handler receives signed Stripe deliveries over HTTP
type Handler struct {
	logger    *slog.Logger
	stripeSvc *services.StripeService
	processor *Processor
}

// NewHandler creates a webhook HTTP handler
func NewHandler(stripeSvc *services.StripeService, processor *Processor) *Handler {
	return &Handler{
		logger:    slog.With("handler", "WebhookHandler"),
		stripeSvc: stripeSvc,
		processor: processor,
	}
}

// HandleStripeWebhook verifies the delivery signature and acknowledges
// immediately. Processing runs in the background; its outcome is never
// reflected in this response.
func (h *Handler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	event, err := h.stripeSvc.ConstructWebhookEvent(payload, signature)
	if err != nil {
		h.logger.Error("Failed to verify webhook signature", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})

	go h.processor.Process(context.Background(), event)
}

// RegisterRoutes registers the unauthenticated webhook callback route
func RegisterRoutes(callbackRoutes *gin.RouterGroup, stripeSvc *services.StripeService, processor *Processor) {
	handler := NewHandler(stripeSvc, processor)

	stripeGroup := callbackRoutes.Group("/stripe")
	{
		stripeGroup.POST("/webhook", handler.HandleStripeWebhook)
	}
}
