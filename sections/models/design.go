package models

import (
	"gorm.io/gorm"
)

const (
	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
)

// Design is the relational record of a canvas. The node/edge content lives
// in the graph store, keyed by the design id.
type Design struct {
	gorm.Model
	Title      string `gorm:"size:255" json:"title"`
	Visibility string `gorm:"size:20;not null;default:'PRIVATE'" json:"visibility"`
	Prompt     string `gorm:"type:text" json:"prompt"`

	Users  []User        `gorm:"many2many:user_designs;" json:"-"`
	Images []DesignImage `gorm:"foreignKey:DesignID" json:"images,omitempty"`
}

func (Design) TableName() string {
	return "designs"
}

// DesignImage references an uploaded render of a design. The upload itself
// goes through object storage outside this service; only the metadata is
// recorded here.
type DesignImage struct {
	gorm.Model
	DesignID uint   `gorm:"not null;index" json:"designId"`
	URL      string `gorm:"size:1024;not null" json:"url"`
	MimeType string `gorm:"size:100" json:"mimeType"`
}

func (DesignImage) TableName() string {
	return "design_images"
}
