package model

import "time"

// DeviceReading is a daily telemetry record produced per device: percentage
// level derived from the reservoir's latest snapshot plus simulated turbidity
// and pH. Append-only.
type DeviceReading struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	LevelPct     int       `gorm:"not null" json:"levelPct"`
	TurbidityNTU int       `gorm:"column:turbidity_ntu;not null" json:"turbidityNtu"`
	PH           float64   `gorm:"column:ph;type:decimal(4,2);not null" json:"ph"`
	RecordedAt   time.Time `gorm:"not null;index" json:"recordedAt"`
	DeviceID     int64     `gorm:"index;not null" json:"deviceId"`

	// Associations
	Device Device `json:"-"`
}
