package model

import "time"

// DeviceAuth is the trust profile of one device, keyed by the device-supplied id.
type DeviceAuth struct {
	DeviceID  string `gorm:"primaryKey;size:128"`
	AuthMode  string `gorm:"size:16;not null"`
	Secret    string `gorm:"size:256"` // Only meaningful for signed devices
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (DeviceAuth) TableName() string {
	return "device_auths"
}
