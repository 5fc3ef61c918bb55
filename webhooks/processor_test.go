package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"canvaskit-backend/plans"
	"canvaskit-backend/sections/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testRegistry(t *testing.T) *plans.Registry {
	t.Helper()

	r, err := plans.New([]plans.PlanConfig{
		{FrontendID: "starter", PlanType: plans.PlanFree, Title: "Starter", MaxDesigns: 3, IsFree: true},
		{FrontendID: "plus", PlanType: plans.PlanPlus, Title: "Plus",
			MonthlyPriceID: "price_plus_month", YearlyPriceID: "price_plus_year", MaxDesigns: 25},
		{FrontendID: "pro-plus", PlanType: plans.PlanProPlus, Title: "Pro Plus",
			MonthlyPriceID: "price_pro_month", YearlyPriceID: "price_pro_year", MaxDesigns: plans.UnlimitedDesigns},
	})
	require.NoError(t, err)
	return r
}

func testProcessor(t *testing.T) (*Processor, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Subscription{}, &models.WebhookEvent{}))

	return NewProcessor(db, testRegistry(t)), db
}

func createUser(t *testing.T, db *gorm.DB, email, customerID string) *models.User {
	t.Helper()

	user := models.User{Name: "Test User", Email: email, MaxDesigns: 3}
	if customerID != "" {
		user.StripeCustomerID = &customerID
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func stripeEvent(id, eventType, raw string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func subscriptionRaw(subID, customerID, priceID string, startDate int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"start_date": %d,
		"items": {"data": [{"price": {"id": %q}}]}
	}`, subID, customerID, startDate, priceID)
}

func activeSubscriptions(t *testing.T, db *gorm.DB, userID uint) []models.Subscription {
	t.Helper()

	var subs []models.Subscription
	require.NoError(t, db.Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Find(&subs).Error)
	return subs
}

func eventStatus(t *testing.T, db *gorm.DB, eventID string) models.WebhookEvent {
	t.Helper()

	var rec models.WebhookEvent
	require.NoError(t, db.Where("event_id = ?", eventID).First(&rec).Error)
	return rec
}

func TestSubscriptionCreatedActivatesPlan(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", start.Unix())))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, string(plans.PlanPlus), subs[0].PlanType)
	require.NotNil(t, subs[0].StripeSubscriptionID)
	assert.Equal(t, "sub_1", *subs[0].StripeSubscriptionID)
	require.NotNil(t, subs[0].CurrentPeriodStart)
	assert.True(t, subs[0].CurrentPeriodStart.Equal(start))
	require.NotNil(t, subs[0].CurrentPeriodEnd)
	assert.True(t, subs[0].CurrentPeriodEnd.Equal(start.AddDate(0, 1, 0)))

	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	assert.Equal(t, 25, fresh.MaxDesigns)

	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_1").Status)
}

func TestDuplicateEventIDIsIdempotent(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	event := stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix()))

	p.Process(ctx, event)
	p.Process(ctx, event)
	p.Process(ctx, event)

	var subCount, eventCount int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", user.ID).Count(&subCount).Error)
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), subCount)
	assert.Equal(t, int64(1), eventCount)
}

func TestCreatedReplayWithNewEventID(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	raw := subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())
	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created", raw))
	p.Process(ctx, stripeEvent("evt_2", "customer.subscription.created", raw))

	// The external subscription id keys the mutation, so a replayed
	// created event under a fresh event id changes nothing.
	var subCount int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", user.ID).Count(&subCount).Error)
	assert.Equal(t, int64(1), subCount)
	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_2").Status)
}

func TestAtMostOneActiveSubscription(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))
	p.Process(ctx, stripeEvent("evt_2", "customer.subscription.created",
		subscriptionRaw("sub_2", "cus_1", "price_pro_month", time.Now().Unix())))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, string(plans.PlanProPlus), subs[0].PlanType)

	var cancelled models.Subscription
	require.NoError(t, db.Where("stripe_subscription_id = ?", "sub_1").First(&cancelled).Error)
	assert.Equal(t, models.SubscriptionCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.EndedAt)

	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	assert.Equal(t, plans.UnlimitedDesigns, fresh.MaxDesigns)
}

func TestUpdatedWithPendingCancellationKeepsAccess(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", start.Unix())))

	cancelAt := start.AddDate(0, 1, 0)
	p.Process(ctx, stripeEvent("evt_2", "customer.subscription.updated", fmt.Sprintf(`{
		"id": "sub_1",
		"customer": "cus_1",
		"start_date": %d,
		"cancel_at": %d,
		"cancel_at_period_end": true,
		"items": {"data": [{"price": {"id": "price_plus_month"}}]}
	}`, start.Unix(), cancelAt.Unix())))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].CancelAtPeriodEnd)
	require.NotNil(t, subs[0].ExpiresAt)
	assert.True(t, subs[0].ExpiresAt.Equal(cancelAt))
	assert.Equal(t, models.SubscriptionActive, subs[0].Status)
}

func TestUpdatedWithNewPriceSyncsQuota(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))
	p.Process(ctx, stripeEvent("evt_2", "customer.subscription.updated",
		subscriptionRaw("sub_1", "cus_1", "price_pro_month", time.Now().Unix())))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, string(plans.PlanProPlus), subs[0].PlanType)
	require.NotNil(t, subs[0].StripePriceID)
	assert.Equal(t, "price_pro_month", *subs[0].StripePriceID)

	// The quota cache follows the plan through update events too
	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	assert.Equal(t, plans.UnlimitedDesigns, fresh.MaxDesigns)
}

func TestUpdatedBeforeCreatedIsHarmless(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.updated",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_1").Status)
}

func TestDeletedDowngradesToRegistryFreeTier(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_pro_month", time.Now().Unix())))
	p.Process(ctx, stripeEvent("evt_2", "customer.subscription.deleted",
		`{"id": "sub_1", "customer": "cus_1"}`))

	var expired models.Subscription
	require.NoError(t, db.Where("stripe_subscription_id = ?", "sub_1").First(&expired).Error)
	assert.Equal(t, models.SubscriptionExpired, expired.Status)
	assert.False(t, expired.CancelAtPeriodEnd)
	assert.Nil(t, expired.ExpiresAt)
	assert.NotNil(t, expired.EndedAt)

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, string(plans.PlanFree), subs[0].PlanType)
	assert.Nil(t, subs[0].StripeSubscriptionID)

	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	assert.Equal(t, 3, fresh.MaxDesigns)
}

func TestUnknownPriceMarksEventFailed(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_bogus", time.Now().Unix())))

	rec := eventStatus(t, db, "evt_1")
	assert.Equal(t, models.WebhookFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Contains(t, rec.ErrorMessage, "price_bogus")

	assert.Empty(t, activeSubscriptions(t, db, user.ID))
}

func TestMissingCustomerMappingIsDropped(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_unknown", "price_plus_month", time.Now().Unix())))

	// No user mapping means no retry can ever succeed; the event is
	// consumed, not failed.
	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_1").Status)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInvoicePaymentSucceededRefreshesPeriods(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))

	periodStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	p.Process(ctx, stripeEvent("evt_2", "invoice.payment_succeeded", fmt.Sprintf(`{
		"id": "in_1",
		"subscription": "sub_1",
		"period_start": %d,
		"period_end": %d
	}`, periodStart.Unix(), periodEnd.Unix())))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].CurrentPeriodStart)
	assert.True(t, subs[0].CurrentPeriodStart.Equal(periodStart))
	require.NotNil(t, subs[0].CurrentPeriodEnd)
	assert.True(t, subs[0].CurrentPeriodEnd.Equal(periodEnd))
	assert.NotNil(t, subs[0].LastPaymentAt)
}

func TestInvoicePaymentFailedIsDiagnosticOnly(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))
	p.Process(ctx, stripeEvent("evt_2", "invoice.payment_failed",
		`{"id": "in_1", "subscription": "sub_1"}`))

	subs := activeSubscriptions(t, db, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubscriptionActive, subs[0].Status)
	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_2").Status)
}

func TestCustomerUpdatedPropagatesEmail(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.updated",
		`{"id": "cus_1", "email": "alice@new.example.com"}`))

	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	assert.Equal(t, "alice@new.example.com", fresh.Email)
}

func TestCustomerDeletedRemovesUser(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	user := createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_1", "customer.deleted", `{"id": "cus_1"}`))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBenignAndUnknownEventsProcessed(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()

	p.Process(ctx, stripeEvent("evt_1", "invoice.finalized", `{"id": "in_1"}`))
	p.Process(ctx, stripeEvent("evt_2", "product.created", `{"id": "prod_1"}`))

	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_1").Status)
	assert.Equal(t, models.WebhookProcessed, eventStatus(t, db, "evt_2").Status)
}

func TestFailedEventsQuery(t *testing.T) {
	p, db := testProcessor(t)
	ctx := context.Background()
	createUser(t, db, "alice@example.com", "cus_1")

	p.Process(ctx, stripeEvent("evt_ok", "customer.subscription.created",
		subscriptionRaw("sub_1", "cus_1", "price_plus_month", time.Now().Unix())))
	p.Process(ctx, stripeEvent("evt_bad", "customer.subscription.created",
		subscriptionRaw("sub_2", "cus_1", "price_bogus", time.Now().Unix())))

	failed, err := p.FailedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_bad", failed[0].EventID)
}
