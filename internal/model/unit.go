package model

import "time"

// Unit is a property/location owned by a user. Its capacity is the
// total-liters budget shared by all of its reservoirs.
type Unit struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	CapacityLiters int       `gorm:"not null" json:"capacityLiters"`
	CreatedAt      time.Time `gorm:"not null" json:"registeredAt"`
	UserID         int64     `gorm:"index;not null" json:"userId"`

	// Associations
	User       User        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Reservoirs []Reservoir `gorm:"foreignKey:UnitID" json:"-"`
}
