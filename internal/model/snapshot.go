package model

import "time"

// Reservoir condition labels. The seeded status vocabulary is fixed; the
// snapshot generator resolves these names to ids and treats a missing name
// as a configuration-integrity failure.
const (
	StatusFull     = "Cheio"
	StatusNormal   = "Normal"
	StatusLow      = "Baixo"
	StatusCritical = "Crítico"
	StatusEmpty    = "Esvaziado"
)

// StatusNames lists the vocabulary in threshold order, highest first.
var StatusNames = []string{StatusFull, StatusNormal, StatusLow, StatusCritical, StatusEmpty}

// ReservoirStatus is one entry of the fixed status vocabulary.
type ReservoirStatus struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:32;not null" json:"name"`
}

// ReservoirSnapshot is a daily recorded water level for a reservoir.
// Append-only: rows are never mutated in place except full-record replace.
type ReservoirSnapshot struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	LevelLiters int       `gorm:"not null" json:"levelLiters"`
	RecordedAt  time.Time `gorm:"not null;index" json:"recordedAt"`
	ReservoirID int64     `gorm:"index;not null" json:"reservoirId"`
	StatusID    int64     `gorm:"not null" json:"statusId"`

	// Associations
	Reservoir Reservoir       `json:"reservoir,omitempty"`
	Status    ReservoirStatus `json:"status,omitempty"`
}
