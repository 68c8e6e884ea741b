package model

import "time"

// Dealer is an LPG station whose tank is watched by at most one device.
type Dealer struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Title     string     `gorm:"size:256;not null" json:"title"`
	City      string     `gorm:"size:128" json:"city,omitempty"`
	DeviceID  *string    `gorm:"uniqueIndex;size:128" json:"deviceId"`
	TankLevel float64    `gorm:"not null;default:0" json:"tankLevel"`
	LastData  *time.Time `json:"lastData"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
