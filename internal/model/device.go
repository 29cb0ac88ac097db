package model

import "time"

// Device is a sensor/controller hardware record. A device with no active
// link belongs to the free pool and can be paired with a new reservoir.
type Device struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	InstalledAt time.Time `gorm:"not null" json:"installedAt"`
}

// ReservoirDevice links one device to one reservoir. A link with a nil
// RemovedAt is active; at most one active link per reservoir.
type ReservoirDevice struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	InstalledAt time.Time  `gorm:"not null" json:"installedAt"`
	RemovedAt   *time.Time `json:"removedAt,omitempty"`
	ReservoirID int64      `gorm:"index;not null" json:"reservoirId"`
	DeviceID    int64      `gorm:"index;not null" json:"deviceId"`

	// Associations
	Reservoir Reservoir `json:"-"`
	Device    Device    `json:"-"`
}
