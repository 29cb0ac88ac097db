package model

import "time"

// Reservoir is a physical water tank belonging to a unit. The sum of the
// reservoir capacities of a unit must never exceed the unit's own capacity.
type Reservoir struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	CapacityLiters int       `gorm:"not null" json:"capacityLiters"`
	InstalledAt    time.Time `gorm:"not null" json:"installedAt"`
	UnitID         int64     `gorm:"index;not null" json:"unitId"`

	// Associations
	Unit Unit `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
