package store

import (
	"context"

	"gorm.io/gorm"

	"aqua-monitor-backend/internal/model"
)

// SnapshotFilters are the optional exact-match filters for the snapshot
// listing. Nil fields are not applied.
type SnapshotFilters struct {
	ReservoirID *int64
	LevelLiters *int
	StatusID    *int64
}

// ReadingFilters are the optional filters for the telemetry listing.
type ReadingFilters struct {
	ReservoirID *int64
}

// Page is a 1-based page request. DefaultPageSize applies when Size is unset.
type Page struct {
	Number int
	Size   int
}

const DefaultPageSize = 10

func (p Page) normalize() Page {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

// ListSnapshots returns the snapshots of reservoirs owned by the user,
// narrowed by the supplied filters, ordered by reservoir id descending.
// Ownership of an explicitly supplied reservoir filter is NOT verified here;
// callers check that separately before building the query.
func (s *gormStore) ListSnapshots(ctx context.Context, userID int64, f SnapshotFilters) ([]model.ReservoirSnapshot, error) {
	q := s.db.WithContext(ctx).
		Model(&model.ReservoirSnapshot{}).
		Joins("JOIN reservoirs ON reservoirs.id = reservoir_snapshots.reservoir_id").
		Joins("JOIN units ON units.id = reservoirs.unit_id").
		Where("units.user_id = ?", userID)

	if f.ReservoirID != nil {
		q = q.Where("reservoir_snapshots.reservoir_id = ?", *f.ReservoirID)
	}
	if f.LevelLiters != nil {
		q = q.Where("reservoir_snapshots.level_liters = ?", *f.LevelLiters)
	}
	if f.StatusID != nil {
		q = q.Where("reservoir_snapshots.status_id = ?", *f.StatusID)
	}

	var snapshots []model.ReservoirSnapshot
	err := q.Preload("Reservoir").Preload("Status").
		Order("reservoir_snapshots.reservoir_id DESC").
		Find(&snapshots).Error
	return snapshots, err
}

// ListReadings returns a page of telemetry readings from devices actively
// linked to the user's reservoirs, newest first, plus the total row count.
func (s *gormStore) ListReadings(ctx context.Context, userID int64, f ReadingFilters, page Page) ([]model.DeviceReading, int64, error) {
	page = page.normalize()

	ownedDevices := s.db.Model(&model.ReservoirDevice{}).
		Select("reservoir_devices.device_id").
		Joins("JOIN reservoirs ON reservoirs.id = reservoir_devices.reservoir_id").
		Joins("JOIN units ON units.id = reservoirs.unit_id").
		Where("units.user_id = ?", userID).
		Where("reservoir_devices.removed_at IS NULL")
	if f.ReservoirID != nil {
		ownedDevices = ownedDevices.Where("reservoir_devices.reservoir_id = ?", *f.ReservoirID)
	}

	// Fresh builder per finisher; gorm chains are not reusable after Count.
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&model.DeviceReading{}).
			Where("device_id IN (?)", ownedDevices)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var readings []model.DeviceReading
	err := base().Order("recorded_at DESC").
		Offset((page.Number - 1) * page.Size).
		Limit(page.Size).
		Find(&readings).Error
	return readings, total, err
}
