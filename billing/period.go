// Package billing computes authoritative subscription period boundaries by
// cross-referencing the payment processor's invoice and subscription
// objects, with a deterministic fallback when authoritative data is
// unavailable.
package billing

import (
	"context"
	"log/slog"
	"time"

	"canvaskit-backend/plans"

	"github.com/stripe/stripe-go/v84"
)

// Period holds the start/end instants of a billing cycle
type Period struct {
	Start time.Time
	End   time.Time
}

// SubscriptionFetcher retrieves a subscription from the payment processor
// with its latest invoice expanded.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

// ComputePeriod resolves the billing period for a subscription. Resolution
// order:
//  1. the latest invoice's period timestamps, when distinct and non-equal
//  2. subscription start (or now) plus one month or one year per the
//     billing cycle resolved from the price id, monthly when indeterminate
//  3. on lookup failure, {now, now+1 month}; period dates are advisory
//     display data, not authorization-critical
func ComputePeriod(ctx context.Context, fetcher SubscriptionFetcher, registry *plans.Registry, subscriptionID, priceID string, now time.Time) Period {
	sub, err := fetcher.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		slog.Warn("Billing period fallback: subscription lookup failed",
			"subscription_id", subscriptionID, "error", err)
		return Period{Start: now, End: now.AddDate(0, 1, 0)}
	}

	if inv := sub.LatestInvoice; inv != nil && inv.PeriodStart > 0 && inv.PeriodEnd > 0 && inv.PeriodStart != inv.PeriodEnd {
		return Period{
			Start: time.Unix(inv.PeriodStart, 0).UTC(),
			End:   time.Unix(inv.PeriodEnd, 0).UTC(),
		}
	}

	start := now
	if sub.StartDate > 0 {
		start = time.Unix(sub.StartDate, 0)
	}

	cycle := plans.CycleMonthly
	if validated, ok := registry.ValidatePriceID(priceID); ok {
		cycle = validated.BillingCycle
	}

	end := start.AddDate(0, 1, 0)
	if cycle == plans.CycleYearly {
		end = start.AddDate(1, 0, 0)
	}

	slog.Debug("Computed billing period from subscription start",
		"subscription_id", subscriptionID, "cycle", cycle)
	return Period{Start: start, End: end}
}
