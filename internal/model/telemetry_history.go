package model

import "time"

// TelemetryHistory is one accepted tank-level reading (append-only).
type TelemetryHistory struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	DeviceID  string    `gorm:"size:128;not null;index" json:"deviceId"`
	DealerID  string    `gorm:"size:36;not null;index:idx_history_dealer_ts,priority:1" json:"dealerId"`
	TankLevel float64   `gorm:"not null" json:"tankLevel"`
	Timestamp time.Time `gorm:"not null;index:idx_history_dealer_ts,priority:2" json:"timestamp"` // Server receipt time
}
