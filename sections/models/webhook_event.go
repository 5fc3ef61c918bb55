package models

import (
	"time"

	"gorm.io/gorm"
)

// Webhook event lifecycle: PENDING on first sight, then PROCESSED or
// FAILED. The unique index on EventID is the deduplication gate for
// replayed and concurrently delivered events.
const (
	WebhookPending   = "PENDING"
	WebhookProcessed = "PROCESSED"
	WebhookFailed    = "FAILED"
)

type WebhookEvent struct {
	gorm.Model
	EventID      string     `gorm:"uniqueIndex;size:255;not null" json:"eventId"`
	EventType    string     `gorm:"size:100;not null" json:"eventType"`
	Payload      string     `gorm:"type:jsonb" json:"payload,omitempty"`
	Status       string     `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	RetryCount   int        `gorm:"not null;default:0" json:"retryCount"`
	ErrorMessage string     `gorm:"size:1000" json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
