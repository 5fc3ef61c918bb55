package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canvaskit-backend/plans"
	"canvaskit-backend/sections/models"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// invoicePayload is the slice of the invoice object the handlers need.
// Parsed from the raw event payload so we read the same top-level fields
// the sender put there.
type invoicePayload struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
}

// handleSubscriptionCreated installs a new ACTIVE subscription for the
// user mapped to the Stripe customer. Any previously ACTIVE row is
// cancelled in the same transaction, keeping at most one ACTIVE row per
// user.
func (p *Processor) handleSubscriptionCreated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	// Replays and out-of-order deliveries key off the external id
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", sub.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check existing subscription: %w", err)
	}
	if count > 0 {
		p.logger.Info("Subscription already recorded, skipping", "stripe_subscription_id", sub.ID)
		return nil
	}

	if sub.Customer == nil {
		return fmt.Errorf("subscription %s carries no customer", sub.ID)
	}

	var user models.User
	err := p.db.WithContext(ctx).
		Where("stripe_customer_id = ?", sub.Customer.ID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Without the customer mapping there is no user to attach to;
		// a retry cannot fix that, so this is not a failure.
		p.logger.Warn("No user for Stripe customer, dropping subscription event",
			"stripe_customer_id", sub.Customer.ID, "stripe_subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	priceID := subscriptionPriceID(&sub)
	if priceID == "" {
		return fmt.Errorf("subscription %s carries no price", sub.ID)
	}
	vp, ok := p.registry.ValidatePriceID(priceID)
	if !ok {
		return fmt.Errorf("unknown price id %q on subscription %s", priceID, sub.ID)
	}

	now := time.Now().UTC()
	periodStart := now
	if sub.StartDate != 0 {
		periodStart = time.Unix(sub.StartDate, 0).UTC()
	}
	var periodEnd time.Time
	if sub.CancelAt != 0 {
		periodEnd = time.Unix(sub.CancelAt, 0).UTC()
	} else {
		periodEnd = addBillingCycle(periodStart, vp.BillingCycle)
	}

	subID := sub.ID
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ? AND status = ?", user.ID, models.SubscriptionActive).
			Updates(map[string]interface{}{
				"status":   models.SubscriptionCancelled,
				"ended_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel previous subscriptions: %w", err)
		}

		record := models.Subscription{
			UserID:               user.ID,
			StripeSubscriptionID: &subID,
			StripePriceID:        &priceID,
			PlanType:             string(vp.PlanConfig.PlanType),
			Status:               models.SubscriptionActive,
			CurrentPeriodStart:   &periodStart,
			CurrentPeriodEnd:     &periodEnd,
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		return tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("max_designs", vp.PlanConfig.MaxDesigns).Error
	})
	if err != nil {
		return err
	}

	p.logger.Info("Subscription activated",
		"user_id", user.ID, "stripe_subscription_id", sub.ID, "plan", vp.PlanConfig.PlanType)
	return nil
}

// handleSubscriptionUpdated recomputes period boundaries for the matching
// local row. A pending cancellation keeps the row ACTIVE with ExpiresAt
// set to the period end (grace period), never an immediate revocation.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	now := time.Now().UTC()
	periodStart := now
	if sub.StartDate != 0 {
		periodStart = time.Unix(sub.StartDate, 0).UTC()
	}

	var periodEnd time.Time
	switch {
	case sub.CancelAt != 0:
		periodEnd = time.Unix(sub.CancelAt, 0).UTC()
	case sub.EndedAt != 0:
		periodEnd = time.Unix(sub.EndedAt, 0).UTC()
	default:
		periodEnd = periodStart.AddDate(0, 1, 0)
	}

	updates := map[string]interface{}{
		"current_period_start": periodStart,
		"current_period_end":   periodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}
	if sub.CancelAtPeriodEnd {
		updates["expires_at"] = periodEnd
	} else {
		updates["expires_at"] = nil
	}
	var vp *plans.ValidatedPlan
	if priceID := subscriptionPriceID(&sub); priceID != "" {
		if resolved, ok := p.registry.ValidatePriceID(priceID); ok {
			updates["stripe_price_id"] = priceID
			updates["plan_type"] = string(resolved.PlanConfig.PlanType)
			vp = resolved
		}
	}

	var matched int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("stripe_subscription_id = ?", sub.ID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update subscription: %w", res.Error)
		}
		matched = res.RowsAffected
		if matched == 0 || vp == nil {
			return nil
		}

		// The denormalized quota moves in lockstep with the plan
		var local models.Subscription
		if err := tx.Where("stripe_subscription_id = ?", sub.ID).First(&local).Error; err != nil {
			return fmt.Errorf("failed to load subscription for quota sync: %w", err)
		}
		return tx.Model(&models.User{}).
			Where("id = ?", local.UserID).
			Update("max_designs", vp.PlanConfig.MaxDesigns).Error
	})
	if err != nil {
		return err
	}
	if matched == 0 {
		// Out-of-order delivery: the created event has not landed yet.
		p.logger.Warn("Subscription update matched no local row", "stripe_subscription_id", sub.ID)
		return nil
	}

	p.logger.Info("Subscription updated",
		"stripe_subscription_id", sub.ID, "cancel_at_period_end", sub.CancelAtPeriodEnd)
	return nil
}

// handleSubscriptionDeleted marks the local row EXPIRED and downgrades the
// user to an ACTIVE free-tier subscription. This is the only path that
// auto-downgrades.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	var local models.Subscription
	err := p.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", sub.ID).
		First(&local).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.logger.Warn("Subscription deletion matched no local row", "stripe_subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	free := p.registry.FreePlan()
	now := time.Now().UTC()

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("id = ?", local.ID).
			Updates(map[string]interface{}{
				"status":               models.SubscriptionExpired,
				"cancel_at_period_end": false,
				"expires_at":           nil,
				"ended_at":             now,
			}).Error; err != nil {
			return fmt.Errorf("failed to expire subscription: %w", err)
		}

		// Clear any other ACTIVE rows before installing the free tier
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ? AND status = ?", local.UserID, models.SubscriptionActive).
			Updates(map[string]interface{}{
				"status":   models.SubscriptionCancelled,
				"ended_at": now,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel remaining subscriptions: %w", err)
		}

		freeSub := models.Subscription{
			UserID:             local.UserID,
			PlanType:           string(free.PlanType),
			Status:             models.SubscriptionActive,
			CurrentPeriodStart: &now,
		}
		if err := tx.Create(&freeSub).Error; err != nil {
			return fmt.Errorf("failed to create free subscription: %w", err)
		}

		return tx.Model(&models.User{}).
			Where("id = ?", local.UserID).
			Update("max_designs", free.MaxDesigns).Error
	})
	if err != nil {
		return err
	}

	p.logger.Info("Subscription expired, user downgraded to free tier",
		"user_id", local.UserID, "stripe_subscription_id", sub.ID)
	return nil
}

// handleInvoicePaymentSucceeded refreshes period boundaries from the
// invoice and records the payment instant. The invoice's periods are
// authoritative when present.
func (p *Processor) handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if inv.Subscription == "" {
		p.logger.Info("Invoice references no subscription", "invoice_id", inv.ID)
		return nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"last_payment_at": now,
		"status":          models.SubscriptionActive,
	}
	if inv.PeriodStart != 0 && inv.PeriodEnd != 0 {
		updates["current_period_start"] = time.Unix(inv.PeriodStart, 0).UTC()
		updates["current_period_end"] = time.Unix(inv.PeriodEnd, 0).UTC()
	}

	res := p.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", inv.Subscription).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to apply invoice payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.logger.Warn("Invoice payment matched no local subscription",
			"invoice_id", inv.ID, "stripe_subscription_id", inv.Subscription)
		return nil
	}

	p.logger.Info("Invoice payment applied",
		"invoice_id", inv.ID, "stripe_subscription_id", inv.Subscription)
	return nil
}

// handleInvoicePaymentFailed is diagnostic only. Dunning and revocation
// arrive through subscription lifecycle events.
func (p *Processor) handleInvoicePaymentFailed(event stripe.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	p.logger.Warn("Invoice payment failed",
		"invoice_id", inv.ID, "stripe_subscription_id", inv.Subscription)
	return nil
}

func (p *Processor) handleCustomerUpdated(ctx context.Context, event stripe.Event) error {
	var cust stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return fmt.Errorf("failed to parse customer: %w", err)
	}
	if cust.Email == "" {
		return nil
	}

	res := p.db.WithContext(ctx).Model(&models.User{}).
		Where("stripe_customer_id = ?", cust.ID).
		Update("email", cust.Email)
	if res.Error != nil {
		return fmt.Errorf("failed to propagate customer email: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		p.logger.Info("Customer email propagated", "stripe_customer_id", cust.ID)
	}
	return nil
}

func (p *Processor) handleCustomerDeleted(ctx context.Context, event stripe.Event) error {
	var cust stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cust); err != nil {
		return fmt.Errorf("failed to parse customer: %w", err)
	}

	res := p.db.WithContext(ctx).
		Where("stripe_customer_id = ?", cust.ID).
		Delete(&models.User{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete user for customer: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		p.logger.Info("User deleted after customer deletion", "stripe_customer_id", cust.ID)
	}
	return nil
}

// subscriptionPriceID pulls the price id off the subscription's first item
func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func addBillingCycle(start time.Time, cycle plans.BillingCycle) time.Time {
	if cycle == plans.CycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
