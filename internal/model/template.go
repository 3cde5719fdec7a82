package model

import (
	"time"

	"gorm.io/datatypes"
)

// Button is a single URL button of a template.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Template is a named, ordered list of buttons. Shared templates are visible
// to every user; all others only to their owner.
type Template struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   int64  `gorm:"index"`
	Name      string `gorm:"size:128"`
	Buttons   datatypes.JSONSlice[Button]
	IsShared  bool      `gorm:"index"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
