package models

import (
	"gorm.io/gorm"
)

// User represents an account holder. MaxDesigns is a denormalized cache of
// the active plan's quota; only subscription-change paths (webhook
// handlers, plan-change endpoint) may write it.
type User struct {
	gorm.Model
	Name         string  `gorm:"size:255" json:"name"`
	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash *string `gorm:"size:255" json:"-"`

	// Set lazily on first paid checkout
	StripeCustomerID *string `gorm:"uniqueIndex;size:255" json:"-"`

	MaxDesigns int `gorm:"not null" json:"maxDesigns"`

	Designs []Design `gorm:"many2many:user_designs;" json:"-"`
}

func (User) TableName() string {
	return "users"
}
