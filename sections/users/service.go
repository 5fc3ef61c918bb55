package users

import (
	"errors"
	"fmt"
	"time"

	"canvaskit-backend/plans"
	"canvaskit-backend/sections/models"

	"gorm.io/gorm"
)

// EnsureFreeSubscription installs an ACTIVE free-tier subscription for the
// user unless one is already active. Idempotent so signup paths can call
// it unconditionally.
func EnsureFreeSubscription(tx *gorm.DB, registry *plans.Registry, userID uint) error {
	var count int64
	if err := tx.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check active subscriptions: %w", err)
	}
	if count > 0 {
		return nil
	}

	free := registry.FreePlan()
	now := time.Now().UTC()
	sub := models.Subscription{
		UserID:             userID,
		PlanType:           string(free.PlanType),
		Status:             models.SubscriptionActive,
		CurrentPeriodStart: &now,
	}
	if err := tx.Create(&sub).Error; err != nil {
		return fmt.Errorf("failed to create free subscription: %w", err)
	}
	return nil
}

// ActivePlan returns the user's current ACTIVE subscription, nil when the
// user has none.
func ActivePlan(db *gorm.DB, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscription: %w", err)
	}
	return &sub, nil
}
