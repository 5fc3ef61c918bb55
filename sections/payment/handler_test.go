package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"canvaskit-backend/common"
	"canvaskit-backend/db"
	"canvaskit-backend/plans"
	"canvaskit-backend/sections"
	"canvaskit-backend/sections/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubGateway satisfies StripeGateway without talking to Stripe
type stubGateway struct {
	methods []*stripe.PaymentMethod

	updateCalls       int
	createCalls       int
	cancelCalls       int
	cancelAtPeriodEnd bool
}

func (s *stubGateway) FetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return &stripe.Subscription{
		ID:        id,
		StartDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}, nil
}

func (s *stubGateway) CreateCheckoutSessionForPrice(ctx context.Context, customerID, customerEmail, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	return nil, errors.New("unexpected checkout session call")
}

func (s *stubGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	return nil, errors.New("unexpected checkout session call")
}

func (s *stubGateway) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_test"}, nil
}

func (s *stubGateway) ListCardPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	return s.methods, nil
}

func (s *stubGateway) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error) {
	s.createCalls++
	return &stripe.Subscription{ID: "sub_new_1"}, nil
}

func (s *stubGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	s.updateCalls++
	return &stripe.Subscription{ID: subscriptionID}, nil
}

func (s *stubGateway) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*stripe.Subscription, error) {
	s.cancelCalls++
	s.cancelAtPeriodEnd = cancelAtPeriodEnd
	return &stripe.Subscription{ID: subscriptionID}, nil
}

func cardOnFile() []*stripe.PaymentMethod {
	return []*stripe.PaymentMethod{{ID: "pm_1"}}
}

func testDeps(t *testing.T) *sections.Dependencies {
	t.Helper()

	rdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, rdb.AutoMigrate(&models.User{}, &models.Subscription{}))

	registry, err := plans.New([]plans.PlanConfig{
		{FrontendID: "starter", PlanType: plans.PlanFree, Title: "Starter", MaxDesigns: 3, IsFree: true},
		{FrontendID: "plus", PlanType: plans.PlanPlus, Title: "Plus",
			MonthlyPriceID: "price_plus_month", YearlyPriceID: "price_plus_year", MaxDesigns: 25},
		{FrontendID: "pro-plus", PlanType: plans.PlanProPlus, Title: "Pro Plus",
			MonthlyPriceID: "price_pro_month", YearlyPriceID: "price_pro_year", MaxDesigns: plans.UnlimitedDesigns},
	})
	require.NoError(t, err)

	return &sections.Dependencies{
		Config:   &common.Config{},
		DB:       &db.DB{DB: rdb},
		Registry: registry,
	}
}

func createUser(t *testing.T, deps *sections.Dependencies, email, customerID string, maxDesigns int) *models.User {
	t.Helper()

	user := models.User{Name: "Test User", Email: email, MaxDesigns: maxDesigns}
	if customerID != "" {
		user.StripeCustomerID = &customerID
	}
	require.NoError(t, deps.DB.DB.Create(&user).Error)
	return &user
}

func createActiveSub(t *testing.T, deps *sections.Dependencies, userID uint, extID, priceID, planType string) *models.Subscription {
	t.Helper()

	sub := models.Subscription{UserID: userID, PlanType: planType, Status: models.SubscriptionActive}
	if extID != "" {
		sub.StripeSubscriptionID = &extID
	}
	if priceID != "" {
		sub.StripePriceID = &priceID
	}
	require.NoError(t, deps.DB.DB.Create(&sub).Error)
	return &sub
}

func authedRequest(t *testing.T, userID uint, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		c.Set("userId", userID)
	}
	return c, w
}

func userSubscriptions(t *testing.T, deps *sections.Dependencies, userID uint) []models.Subscription {
	t.Helper()

	var subs []models.Subscription
	require.NoError(t, deps.DB.DB.Where("user_id = ?", userID).Order("id").Find(&subs).Error)
	return subs
}

func TestChangePlanUpdatesExistingSubscriptionInPlace(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{methods: cardOnFile()}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "alice@example.com", "cus_1", 25)
	createActiveSub(t, deps, user.ID, "sub_ext_1", "price_plus_month", string(plans.PlanPlus))

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "pro-plus", BillingCycle: "monthly"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, gateway.updateCalls)
	assert.Zero(t, gateway.createCalls)

	// The external id is unchanged and unique, so the local row must be
	// reused rather than recreated.
	subs := userSubscriptions(t, deps, user.ID)
	require.Len(t, subs, 1)
	assert.Equal(t, models.SubscriptionActive, subs[0].Status)
	assert.Equal(t, string(plans.PlanProPlus), subs[0].PlanType)
	require.NotNil(t, subs[0].StripeSubscriptionID)
	assert.Equal(t, "sub_ext_1", *subs[0].StripeSubscriptionID)
	require.NotNil(t, subs[0].StripePriceID)
	assert.Equal(t, "price_pro_month", *subs[0].StripePriceID)
	require.NotNil(t, subs[0].CurrentPeriodStart)
	require.NotNil(t, subs[0].CurrentPeriodEnd)

	var fresh models.User
	require.NoError(t, deps.DB.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, plans.UnlimitedDesigns, fresh.MaxDesigns)
}

func TestChangePlanClearsPendingCancellation(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{methods: cardOnFile()}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "alice@example.com", "cus_1", 25)
	sub := createActiveSub(t, deps, user.ID, "sub_ext_1", "price_plus_month", string(plans.PlanPlus))
	expires := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, deps.DB.DB.Model(sub).Updates(map[string]interface{}{
		"cancel_at_period_end": true,
		"expires_at":           expires,
	}).Error)

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "pro-plus", BillingCycle: "yearly"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	subs := userSubscriptions(t, deps, user.ID)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].CancelAtPeriodEnd)
	assert.Nil(t, subs[0].ExpiresAt)
	require.NotNil(t, subs[0].StripePriceID)
	assert.Equal(t, "price_pro_year", *subs[0].StripePriceID)
}

func TestChangePlanCreatesSubscriptionForFreeUser(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{methods: cardOnFile()}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "bob@example.com", "cus_2", 3)
	createActiveSub(t, deps, user.ID, "", "", string(plans.PlanFree))

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "plus", BillingCycle: "monthly"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, gateway.createCalls)
	assert.Zero(t, gateway.updateCalls)

	subs := userSubscriptions(t, deps, user.ID)
	require.Len(t, subs, 2)
	assert.Equal(t, models.SubscriptionCancelled, subs[0].Status)
	assert.NotNil(t, subs[0].EndedAt)
	assert.Equal(t, models.SubscriptionActive, subs[1].Status)
	assert.Equal(t, string(plans.PlanPlus), subs[1].PlanType)
	require.NotNil(t, subs[1].StripeSubscriptionID)
	assert.Equal(t, "sub_new_1", *subs[1].StripeSubscriptionID)

	var fresh models.User
	require.NoError(t, deps.DB.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, 25, fresh.MaxDesigns)
}

func TestChangePlanRequiresPaymentMethod(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "carol@example.com", "cus_3", 3)
	createActiveSub(t, deps, user.ID, "", "", string(plans.PlanFree))

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "plus", BillingCycle: "monthly"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PAYMENT_METHOD_REQUIRED")
	assert.Contains(t, w.Body.String(), `"requiresCheckout":true`)
	assert.Zero(t, gateway.createCalls)
	assert.Zero(t, gateway.updateCalls)
}

func TestChangePlanSamePriceRejected(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{methods: cardOnFile()}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "dave@example.com", "cus_4", 25)
	createActiveSub(t, deps, user.ID, "sub_ext_1", "price_plus_month", string(plans.PlanPlus))

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "plus", BillingCycle: "monthly"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already on this plan")
	assert.Zero(t, gateway.updateCalls)
}

func TestChangePlanDowngradeToFree(t *testing.T) {
	deps := testDeps(t)
	gateway := &stubGateway{methods: cardOnFile()}
	handler := NewHandler(deps, gateway)

	user := createUser(t, deps, "erin@example.com", "cus_5", plans.UnlimitedDesigns)
	createActiveSub(t, deps, user.ID, "sub_ext_1", "price_pro_month", string(plans.PlanProPlus))

	c, w := authedRequest(t, user.ID, http.MethodPost, "/api/v1/payments/change-plan",
		ChangePlanRequest{PlanID: "starter"})
	handler.ChangePlan(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, gateway.cancelCalls)
	assert.False(t, gateway.cancelAtPeriodEnd)

	subs := userSubscriptions(t, deps, user.ID)
	require.Len(t, subs, 2)
	assert.Equal(t, models.SubscriptionCancelled, subs[0].Status)
	assert.Equal(t, models.SubscriptionActive, subs[1].Status)
	assert.Equal(t, string(plans.PlanFree), subs[1].PlanType)
	assert.Nil(t, subs[1].StripeSubscriptionID)

	var fresh models.User
	require.NoError(t, deps.DB.DB.First(&fresh, user.ID).Error)
	assert.Equal(t, 3, fresh.MaxDesigns)
}
