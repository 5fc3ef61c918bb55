package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscription statuses. Invariant: at most one ACTIVE row per user at any
// instant, enforced by cancel-then-create inside a single transaction.
const (
	SubscriptionActive    = "ACTIVE"
	SubscriptionCancelled = "CANCELLED"
	SubscriptionExpired   = "EXPIRED"
)

// Subscription represents a billing subscription. Free-tier rows carry nil
// StripeSubscriptionID/StripePriceID/CurrentPeriodEnd.
type Subscription struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"userId"`

	StripeSubscriptionID *string `gorm:"uniqueIndex;size:255" json:"stripeSubscriptionId,omitempty"`
	StripePriceID        *string `gorm:"size:255" json:"stripePriceId,omitempty"`

	PlanType string `gorm:"size:50;not null" json:"planType"`
	Status   string `gorm:"size:20;not null;default:'ACTIVE';index" json:"status"`

	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancelAtPeriodEnd"`

	// ExpiresAt is set while a cancellation is pending; clients display
	// "access until" from this field, not CurrentPeriodEnd.
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	LastPaymentAt *time.Time `json:"lastPaymentAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
