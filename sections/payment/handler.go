// Package payment drives checkout, plan changes, and cancellation against
// Stripe. Switching onto a new external subscription goes through
// cancel-then-create inside one transaction; a price change on an existing
// external subscription updates the local row in place, since the row keeps
// its unique external id.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"canvaskit-backend/billing"
	"canvaskit-backend/common"
	"canvaskit-backend/plans"
	"canvaskit-backend/sections"
	"canvaskit-backend/sections/auth"
	"canvaskit-backend/sections/models"
	"canvaskit-backend/sections/users"
	"canvaskit-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// StripeGateway covers the Stripe operations the payment handlers perform.
// *services.StripeService implements it.
type StripeGateway interface {
	billing.SubscriptionFetcher
	CreateCheckoutSessionForPrice(ctx context.Context, customerID, customerEmail, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	ListCardPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error)
	CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*stripe.Subscription, error)
}

// Handler handles payment-related requests
type Handler struct {
	logger    *slog.Logger
	deps      *sections.Dependencies
	stripeSvc StripeGateway
}

// NewHandler creates a new payment handler
func NewHandler(deps *sections.Dependencies, stripeSvc StripeGateway) *Handler {
	return &Handler{
		logger:    slog.With("handler", "PaymentHandler"),
		deps:      deps,
		stripeSvc: stripeSvc,
	}
}

// CreateCheckoutSessionRequest asks for a hosted checkout for a paid price
type CreateCheckoutSessionRequest struct {
	PriceID string `json:"priceId" binding:"required"`
}

// ChangePlanRequest switches the user onto another plan
type ChangePlanRequest struct {
	PlanID       string `json:"planId" binding:"required"`
	BillingCycle string `json:"billingCycle,omitempty"`
}

// CheckoutSessionResponse carries the created session back to the client
type CheckoutSessionResponse struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl,omitempty"`
}

// PlanChangeResponse reports the subscription state after a plan change
type PlanChangeResponse struct {
	PlanType           string     `json:"planType"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
}

// CreateCheckoutSession creates a Stripe checkout session for a paid price.
// The Stripe customer is created lazily on first use and persisted.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req CreateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	vp, valid := h.deps.Registry.ValidatePriceID(req.PriceID)
	if !valid || vp.PlanConfig.IsFree {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price id"})
		return
	}

	customerID, err := h.ensureStripeCustomer(c, user)
	if err != nil {
		h.logger.Error("Failed to get or create customer", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	metadata := map[string]string{"user_id": fmt.Sprintf("%d", user.ID)}
	session, err := h.stripeSvc.CreateCheckoutSessionForPrice(
		c.Request.Context(), customerID, user.Email, req.PriceID, metadata)
	if err != nil {
		h.logger.Error("Failed to create checkout session", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("Checkout session created",
		"user_id", user.ID, "price_id", req.PriceID, "session_id", session.ID)

	c.JSON(http.StatusCreated, common.ApiResponse[CheckoutSessionResponse]{
		Data:    CheckoutSessionResponse{SessionID: session.ID, SessionURL: session.URL},
		Success: true,
	})
}

// RetrieveSession fetches a checkout session for the success page
func (h *Handler) RetrieveSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session id"})
		return
	}

	session, err := h.stripeSvc.GetCheckoutSession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to retrieve checkout session", "session_id", sessionID, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[gin.H]{
		Data: gin.H{
			"sessionId":     session.ID,
			"status":        session.Status,
			"paymentStatus": session.PaymentStatus,
		},
		Success: true,
	})
}

// ChangePlan moves the user onto another plan. Downgrading to the free
// tier cancels the external subscription immediately; upgrades update or
// create the external subscription and swap the local row.
func (h *Handler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	target := h.deps.Registry.ByFrontendID(req.PlanID)
	if target == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
		return
	}

	current, err := users.ActivePlan(h.deps.DB.DB, user.ID)
	if err != nil {
		h.logger.Error("Failed to load active subscription", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	if target.IsFree {
		h.downgradeToFree(c, user, current, target)
		return
	}

	priceID := target.MonthlyPriceID
	if req.BillingCycle == string(plans.CycleYearly) {
		priceID = target.YearlyPriceID
	}

	if current != nil && current.StripePriceID != nil && *current.StripePriceID == priceID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "already on this plan"})
		return
	}

	customerID, err := h.ensureStripeCustomer(c, user)
	if err != nil {
		h.logger.Error("Failed to get or create customer", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	methods, err := h.stripeSvc.ListCardPaymentMethods(c.Request.Context(), customerID)
	if err != nil {
		h.logger.Error("Failed to list payment methods", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}
	if len(methods) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":            "PAYMENT_METHOD_REQUIRED",
			"message":          "No payment method on file. Complete checkout to add one.",
			"requiresCheckout": true,
		})
		return
	}

	var stripeSub *stripe.Subscription
	updatedExternal := current != nil && current.StripeSubscriptionID != nil
	if updatedExternal {
		stripeSub, err = h.stripeSvc.UpdateSubscriptionPrice(
			c.Request.Context(), *current.StripeSubscriptionID, priceID)
	} else {
		metadata := map[string]string{"user_id": fmt.Sprintf("%d", user.ID)}
		stripeSub, err = h.stripeSvc.CreateSubscription(
			c.Request.Context(), customerID, priceID, methods[0].ID, metadata)
	}
	if err != nil {
		h.logger.Error("Failed to change external subscription", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	period := billing.ComputePeriod(
		c.Request.Context(), h.stripeSvc, h.deps.Registry, stripeSub.ID, priceID, time.Now().UTC())

	now := time.Now().UTC()
	var record models.Subscription
	if updatedExternal {
		// The external subscription kept its id, and the local row holds
		// a unique index on it; update the row in place.
		err = h.deps.DB.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Subscription{}).
				Where("id = ?", current.ID).
				Updates(map[string]interface{}{
					"plan_type":            string(target.PlanType),
					"stripe_price_id":      priceID,
					"current_period_start": period.Start,
					"current_period_end":   period.End,
					"cancel_at_period_end": false,
					"expires_at":           nil,
				}).Error; err != nil {
				return err
			}
			return tx.Model(&models.User{}).
				Where("id = ?", user.ID).
				Update("max_designs", target.MaxDesigns).Error
		})
		record = *current
		record.PlanType = string(target.PlanType)
		record.StripePriceID = &priceID
		record.CurrentPeriodStart = &period.Start
		record.CurrentPeriodEnd = &period.End
		record.CancelAtPeriodEnd = false
		record.ExpiresAt = nil
	} else {
		subID := stripeSub.ID
		record = models.Subscription{
			UserID:               user.ID,
			StripeSubscriptionID: &subID,
			StripePriceID:        &priceID,
			PlanType:             string(target.PlanType),
			Status:               models.SubscriptionActive,
			CurrentPeriodStart:   &period.Start,
			CurrentPeriodEnd:     &period.End,
		}
		err = h.deps.DB.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Subscription{}).
				Where("user_id = ? AND status = ?", user.ID, models.SubscriptionActive).
				Updates(map[string]interface{}{
					"status":   models.SubscriptionCancelled,
					"ended_at": now,
				}).Error; err != nil {
				return err
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			return tx.Model(&models.User{}).
				Where("id = ?", user.ID).
				Update("max_designs", target.MaxDesigns).Error
		})
	}
	if err != nil {
		h.logger.Error("Failed to persist plan change", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("Plan changed", "user_id", user.ID, "plan", target.PlanType, "price_id", priceID)

	c.JSON(http.StatusOK, common.ApiResponse[PlanChangeResponse]{
		Data:    toPlanChangeResponse(&record),
		Success: true,
	})
}

// CancelSubscription schedules the current paid subscription for
// cancellation at period end. Access stays ACTIVE until ExpiresAt.
func (h *Handler) CancelSubscription(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	current, err := users.ActivePlan(h.deps.DB.DB, user.ID)
	if err != nil {
		h.logger.Error("Failed to load active subscription", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}
	if current == nil || current.StripeSubscriptionID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no paid subscription to cancel"})
		return
	}

	if _, err := h.stripeSvc.CancelSubscription(
		c.Request.Context(), *current.StripeSubscriptionID, true); err != nil {
		h.logger.Error("Failed to cancel external subscription", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	updates := map[string]interface{}{"cancel_at_period_end": true}
	if current.CurrentPeriodEnd != nil {
		updates["expires_at"] = *current.CurrentPeriodEnd
	}
	if err := h.deps.DB.DB.Model(&models.Subscription{}).
		Where("id = ?", current.ID).
		Updates(updates).Error; err != nil {
		h.logger.Error("Failed to record cancellation", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	current.CancelAtPeriodEnd = true
	current.ExpiresAt = current.CurrentPeriodEnd

	h.logger.Info("Subscription cancellation scheduled",
		"user_id", user.ID, "stripe_subscription_id", *current.StripeSubscriptionID)

	c.JSON(http.StatusOK, common.ApiResponse[PlanChangeResponse]{
		Data:    toPlanChangeResponse(current),
		Success: true,
	})
}

// downgradeToFree cancels the external subscription immediately and
// installs the registry's free tier.
func (h *Handler) downgradeToFree(c *gin.Context, user *models.User, current *models.Subscription, free *plans.PlanConfig) {
	if current != nil && current.PlanType == string(free.PlanType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "already on this plan"})
		return
	}

	if current != nil && current.StripeSubscriptionID != nil {
		if _, err := h.stripeSvc.CancelSubscription(
			c.Request.Context(), *current.StripeSubscriptionID, false); err != nil {
			h.logger.Error("Failed to cancel external subscription", "error", err)
			c.JSON(http.StatusInternalServerError, common.ApplicationError())
			return
		}
	}

	now := time.Now().UTC()
	record := models.Subscription{
		UserID:             user.ID,
		PlanType:           string(free.PlanType),
		Status:             models.SubscriptionActive,
		CurrentPeriodStart: &now,
	}
	err := h.deps.DB.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ? AND status = ?", user.ID, models.SubscriptionActive).
			Updates(map[string]interface{}{
				"status":   models.SubscriptionCancelled,
				"ended_at": now,
			}).Error; err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("max_designs", free.MaxDesigns).Error
	})
	if err != nil {
		h.logger.Error("Failed to persist downgrade", "error", err)
		c.JSON(http.StatusInternalServerError, common.ApplicationError())
		return
	}

	h.logger.Info("User downgraded to free tier", "user_id", user.ID)

	c.JSON(http.StatusOK, common.ApiResponse[PlanChangeResponse]{
		Data:    toPlanChangeResponse(&record),
		Success: true,
	})
}

// ensureStripeCustomer returns the user's Stripe customer id, creating and
// persisting one on first use.
func (h *Handler) ensureStripeCustomer(c *gin.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	metadata := map[string]string{"user_id": fmt.Sprintf("%d", user.ID)}
	customer, err := h.stripeSvc.GetOrCreateCustomer(c.Request.Context(), user.Email, user.Name, metadata)
	if err != nil {
		return "", err
	}

	if err := h.deps.DB.DB.Model(user).
		Update("stripe_customer_id", customer.ID).Error; err != nil {
		return "", fmt.Errorf("failed to persist customer id: %w", err)
	}
	customerID := customer.ID
	user.StripeCustomerID = &customerID
	return customer.ID, nil
}

func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := auth.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}

	var user models.User
	if err := h.deps.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil, false
	}
	return &user, true
}

func toPlanChangeResponse(sub *models.Subscription) PlanChangeResponse {
	return PlanChangeResponse{
		PlanType:           sub.PlanType,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		ExpiresAt:          sub.ExpiresAt,
	}
}

// RegisterRoutes registers payment routes
func RegisterRoutes(r *gin.Engine, deps *sections.Dependencies, jwtManager *auth.JWTManager, stripeSvc *services.StripeService) {
	handler := NewHandler(deps, stripeSvc)

	protected := r.Group("/api/v1/payments")
	protected.Use(auth.JWTAuthMiddleware(jwtManager))
	{
		protected.POST("/checkout", handler.CreateCheckoutSession)
		protected.GET("/checkout/:sessionId", handler.RetrieveSession)
		protected.POST("/change-plan", handler.ChangePlan)
		protected.POST("/cancel", handler.CancelSubscription)
	}
}
