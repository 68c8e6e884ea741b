package model

import "time"

// Device represents a physical reporting unit in the field.
type Device struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	DeviceID    string     `gorm:"uniqueIndex;size:128;not null" json:"deviceId"` // Device-supplied, never regenerated
	Name        string     `gorm:"size:256;not null" json:"name"`
	Description string     `gorm:"size:512" json:"description,omitempty"`
	Status      string     `gorm:"size:32;not null" json:"status"`
	LastSeen    *time.Time `json:"lastSeen"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
