package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Subscribers are alerted when a daily snapshot lands one of their
// reservoirs in a critical level.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth      string    `gorm:"not null" json:"auth"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`

	// Associations
	Reservoirs []*Reservoir `gorm:"many2many:subscription_reservoir_mapping;" json:"-"`
}
