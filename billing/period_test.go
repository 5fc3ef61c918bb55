package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"canvaskit-backend/plans"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

type stubFetcher struct {
	sub *stripe.Subscription
	err error
}

func (s *stubFetcher) FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return s.sub, s.err
}

func testRegistry(t *testing.T) *plans.Registry {
	t.Helper()
	registry, err := plans.New([]plans.PlanConfig{
		{FrontendID: "starter", PlanType: plans.PlanFree, MonthlyPriceID: "price_free", YearlyPriceID: "price_free", MaxDesigns: 3, IsFree: true},
		{FrontendID: "plus", PlanType: plans.PlanPlus, MonthlyPriceID: "price_plus_monthly", YearlyPriceID: "price_plus_yearly", MaxDesigns: 20},
	})
	require.NoError(t, err)
	return registry
}

func TestComputePeriodUsesInvoiceWhenAuthoritative(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{sub: &stripe.Subscription{
		LatestInvoice: &stripe.Invoice{
			PeriodStart: start.Unix(),
			PeriodEnd:   end.Unix(),
		},
	}}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_plus_monthly", time.Now())
	assert.Equal(t, start.Unix(), period.Start.Unix())
	assert.Equal(t, end.Unix(), period.End.Unix())
	assert.Equal(t, time.UTC, period.Start.Location())
	assert.Equal(t, time.UTC, period.End.Location())
}

func TestComputePeriodIgnoresDegenerateInvoicePeriod(t *testing.T) {
	// Equal start/end timestamps carry no period information; fall back to
	// the subscription start plus one cycle.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{sub: &stripe.Subscription{
		StartDate: start.Unix(),
		LatestInvoice: &stripe.Invoice{
			PeriodStart: start.Unix(),
			PeriodEnd:   start.Unix(),
		},
	}}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_plus_monthly", time.Now())
	assert.Equal(t, start.Unix(), period.Start.Unix())
	assert.Equal(t, start.AddDate(0, 1, 0).Unix(), period.End.Unix())
}

func TestComputePeriodYearlyCycle(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{sub: &stripe.Subscription{StartDate: start.Unix()}}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_plus_yearly", time.Now())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), period.End.Unix())
}

func TestComputePeriodDefaultsToMonthlyForUnknownPrice(t *testing.T) {
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{sub: &stripe.Subscription{StartDate: start.Unix()}}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_unknown", time.Now())
	assert.Equal(t, start.AddDate(0, 1, 0).Unix(), period.End.Unix())
}

func TestComputePeriodMissingStartUsesNow(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{sub: &stripe.Subscription{}}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_plus_monthly", now)
	assert.Equal(t, now.Unix(), period.Start.Unix())
	assert.Equal(t, now.AddDate(0, 1, 0).Unix(), period.End.Unix())
}

func TestComputePeriodFallbackOnFetchError(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	fetcher := &stubFetcher{err: errors.New("stripe unreachable")}

	period := ComputePeriod(context.Background(), fetcher, testRegistry(t), "sub_1", "price_plus_yearly", now)
	assert.Equal(t, now.Unix(), period.Start.Unix())
	assert.Equal(t, now.AddDate(0, 1, 0).Unix(), period.End.Unix())
}
