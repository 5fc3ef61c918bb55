// Package webhooks ingests Stripe events and applies their subscription
// side effects. Every event passes through a persisted dedup gate before
// any handler runs; processing happens in the background after the HTTP
// acknowledgment.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"canvaskit-backend/plans"
	"canvaskit-backend/sections/models"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// Processor records incoming events and dispatches them by type
type Processor struct {
	logger   *slog.Logger
	db       *gorm.DB
	registry *plans.Registry
}

// NewProcessor creates a webhook processor
func NewProcessor(db *gorm.DB, registry *plans.Registry) *Processor {
	return &Processor{
		logger:   slog.With("service", "WebhookProcessor"),
		db:       db,
		registry: registry,
	}
}

// benignEvents are event types we receive as part of normal checkout and
// billing flows but take no action on.
var benignEvents = map[stripe.EventType]struct{}{
	"payment_intent.succeeded":   {},
	"charge.succeeded":           {},
	"checkout.session.completed": {},
	"invoice.created":            {},
	"invoice.finalized":          {},
	"invoice.paid":               {},
}

// Process runs the full lifecycle for one delivery: dedup on event id,
// record PENDING, dispatch, mark PROCESSED or FAILED. Handler errors are
// swallowed after recording; the sender was already acknowledged.
func (p *Processor) Process(ctx context.Context, event stripe.Event) {
	var existing models.WebhookEvent
	err := p.db.WithContext(ctx).Where("event_id = ?", event.ID).First(&existing).Error
	if err == nil {
		p.logger.Info("Skipping duplicate webhook event",
			"event_id", event.ID, "status", existing.Status)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		p.logger.Error("Failed to check webhook event", "event_id", event.ID, "error", err)
		return
	}

	record := models.WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Status:    models.WebhookPending,
	}
	if event.Data != nil {
		record.Payload = string(event.Data.Raw)
	}
	// The unique index on event_id closes the check-then-insert race: a
	// concurrent delivery that lost loses here, loudly.
	if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
		p.logger.Warn("Failed to record webhook event, likely concurrent delivery",
			"event_id", event.ID, "error", err)
		return
	}

	if err := p.dispatch(ctx, event); err != nil {
		p.logger.Error("Webhook handler failed",
			"event_id", event.ID, "type", event.Type, "error", err)
		p.markFailed(ctx, event.ID, err)
		return
	}
	p.markProcessed(ctx, event.ID)
}

func (p *Processor) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created":
		return p.handleSubscriptionCreated(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return p.handleInvoicePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(event)
	case "customer.updated":
		return p.handleCustomerUpdated(ctx, event)
	case "customer.deleted":
		return p.handleCustomerDeleted(ctx, event)
	}

	if _, ok := benignEvents[event.Type]; ok {
		p.logger.Debug("Ignoring benign webhook event", "type", event.Type)
		return nil
	}

	p.logger.Info("Unhandled webhook event type", "type", event.Type)
	return nil
}

func (p *Processor) markProcessed(ctx context.Context, eventID string) {
	now := time.Now().UTC()
	if err := p.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":       models.WebhookProcessed,
			"processed_at": now,
		}).Error; err != nil {
		p.logger.Error("Failed to mark webhook event processed", "event_id", eventID, "error", err)
	}
}

func (p *Processor) markFailed(ctx context.Context, eventID string, handlerErr error) {
	if err := p.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"status":        models.WebhookFailed,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": handlerErr.Error(),
		}).Error; err != nil {
		p.logger.Error("Failed to mark webhook event failed", "event_id", eventID, "error", err)
	}
}

// FailedEvents returns events whose handler errored. There is no automatic
// retry sweep; this is the operator's window into what needs attention.
func (p *Processor) FailedEvents(ctx context.Context) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	if err := p.db.WithContext(ctx).
		Where("status = ?", models.WebhookFailed).
		Order("created_at").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list failed webhook events: %w", err)
	}
	return events, nil
}
