package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/capacity"
	"aqua-monitor-backend/internal/model"
)

// Store defines the interface for all database operations with domain
// invariants attached: capacity enforcement, device pooling and the
// cascading deletion guards.
type Store interface {
	DB() *gorm.DB

	CreateReservoir(ctx context.Context, r *model.Reservoir, userID int64, now time.Time) error
	UpdateReservoir(ctx context.Context, id int64, name string, capacityLiters int, userID int64) (model.Reservoir, error)
	DeleteReservoir(ctx context.Context, id, userID int64) error

	CreateUnit(ctx context.Context, u *model.Unit) error
	UpdateUnit(ctx context.Context, id int64, name string, capacityLiters int, userID int64) (model.Unit, error)
	DeleteUnit(ctx context.Context, id, userID int64) error

	AllocateDevice(ctx context.Context, now time.Time) (model.Device, error)
	GuardReservoirDeletion(ctx context.Context, reservoirID int64) error
	ReservoirOwnedBy(ctx context.Context, reservoirID, userID int64) (bool, error)

	ListSnapshots(ctx context.Context, userID int64, f SnapshotFilters) ([]model.ReservoirSnapshot, error)
	ListReadings(ctx context.Context, userID int64, f ReadingFilters, page Page) ([]model.DeviceReading, int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// CreateUnit persists a new unit for its owner.
func (s *gormStore) CreateUnit(ctx context.Context, u *model.Unit) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// UpdateUnit renames a unit and/or changes its capacity budget. Shrinking the
// budget below the capacity already committed by its reservoirs is rejected.
func (s *gormStore) UpdateUnit(ctx context.Context, id int64, name string, capacityLiters int, userID int64) (model.Unit, error) {
	var unit model.Unit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		unit, err = lockUnit(tx, id, userID)
		if err != nil {
			return err
		}

		committed, err := committedCapacity(tx, unit.ID, 0)
		if err != nil {
			return err
		}
		if committed > capacityLiters {
			return apperr.BadRequest(
				"unit capacity of %d liters is below the %d liters already committed by its reservoirs",
				capacityLiters, committed)
		}

		unit.Name = name
		unit.CapacityLiters = capacityLiters
		return tx.Save(&unit).Error
	})
	return unit, err
}

// CreateReservoir runs the whole creation sequence in one transaction:
// ownership check, capacity ledger, reservoir write, device allocation and
// link write. The row lock on the unit serializes concurrent creations
// against the same budget so the aggregate can never be read stale.
func (s *gormStore) CreateReservoir(ctx context.Context, r *model.Reservoir, userID int64, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := lockUnit(tx, r.UnitID, userID)
		if err != nil {
			return err
		}

		existing, err := reservoirCapacities(tx, unit.ID)
		if err != nil {
			return err
		}
		if err := capacity.Validate(unit.CapacityLiters, existing, r.CapacityLiters); err != nil {
			return apperr.Wrap(apperr.KindBadRequest, err)
		}

		r.InstalledAt = now
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("failed to persist reservoir: %w", err)
		}

		device, err := allocateDevice(tx, now)
		if err != nil {
			return err
		}

		link := model.ReservoirDevice{
			InstalledAt: now,
			ReservoirID: r.ID,
			DeviceID:    device.ID,
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("failed to link device %d to reservoir %d: %w", device.ID, r.ID, err)
		}
		return nil
	})
}

// UpdateReservoir renames a reservoir and/or changes its capacity, re-running
// the ledger with the reservoir's own old capacity excluded from the
// committed sum.
func (s *gormStore) UpdateReservoir(ctx context.Context, id int64, name string, capacityLiters int, userID int64) (model.Reservoir, error) {
	var reservoir model.Reservoir
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&reservoir, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("reservoir not found")
			}
			return err
		}

		unit, err := lockUnit(tx, reservoir.UnitID, userID)
		if err != nil {
			return err
		}

		committed, err := committedCapacity(tx, unit.ID, reservoir.ID)
		if err != nil {
			return err
		}
		if err := capacity.Validate(unit.CapacityLiters, []int{committed}, capacityLiters); err != nil {
			return apperr.Wrap(apperr.KindBadRequest, err)
		}

		reservoir.Name = name
		reservoir.CapacityLiters = capacityLiters
		return tx.Save(&reservoir).Error
	})
	return reservoir, err
}

// DeleteReservoir removes a reservoir and its device links in one
// transaction. The linked devices return to the free pool; they are never
// deleted. A reservoir with recorded history cannot be removed.
func (s *gormStore) DeleteReservoir(ctx context.Context, id, userID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteReservoir(tx, id, userID)
	})
}

// DeleteUnit cascades through all owned reservoirs. Every reservoir is
// guarded before anything is removed: one blocked reservoir aborts the whole
// operation with no rows touched.
func (s *gormStore) DeleteUnit(ctx context.Context, id, userID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := lockUnit(tx, id, userID)
		if err != nil {
			return err
		}

		var reservoirs []model.Reservoir
		if err := tx.Where("unit_id = ?", unit.ID).Order("id").Find(&reservoirs).Error; err != nil {
			return err
		}

		for _, r := range reservoirs {
			if err := guardReservoirDeletion(tx, r); err != nil {
				return err
			}
		}

		// The per-reservoir path re-runs the guard; cheap, and keeps the two
		// deletion entry points behaviorally identical.
		for _, r := range reservoirs {
			if err := deleteReservoir(tx, r.ID, userID); err != nil {
				return err
			}
		}

		return tx.Delete(&model.Unit{}, unit.ID).Error
	})
}

// AllocateDevice picks the lowest-id device with no active link, or
// provisions a new one. It does not create the reservoir link; that is the
// caller's responsibility.
func (s *gormStore) AllocateDevice(ctx context.Context, now time.Time) (model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		device, err = allocateDevice(tx, now)
		return err
	})
	return device, err
}

// GuardReservoirDeletion reports whether the reservoir can be deleted.
func (s *gormStore) GuardReservoirDeletion(ctx context.Context, reservoirID int64) error {
	var reservoir model.Reservoir
	if err := s.db.WithContext(ctx).First(&reservoir, reservoirID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("reservoir not found")
		}
		return err
	}
	return guardReservoirDeletion(s.db.WithContext(ctx), reservoir)
}

// ReservoirOwnedBy walks the reservoir→unit→user chain.
func (s *gormStore) ReservoirOwnedBy(ctx context.Context, reservoirID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Reservoir{}).
		Joins("JOIN units ON units.id = reservoirs.unit_id").
		Where("reservoirs.id = ? AND units.user_id = ?", reservoirID, userID).
		Count(&count).Error
	return count > 0, err
}

// --- transaction-scoped helpers ---

// lockUnit loads a unit under a FOR UPDATE row lock after verifying it
// exists and belongs to the user. sqlite has no row locks and is
// single-writer anyway; the lock only matters on postgres.
func lockUnit(tx *gorm.DB, unitID, userID int64) (model.Unit, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var unit model.Unit
	err := q.First(&unit, unitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Unit{}, apperr.NotFound("unit not found")
	}
	if err != nil {
		return model.Unit{}, err
	}
	if unit.UserID != userID {
		return model.Unit{}, apperr.Forbidden("you do not have access to this unit")
	}
	return unit, nil
}

func reservoirCapacities(tx *gorm.DB, unitID int64) ([]int, error) {
	var capacities []int
	err := tx.Model(&model.Reservoir{}).
		Where("unit_id = ?", unitID).
		Order("id").
		Pluck("capacity_liters", &capacities).Error
	return capacities, err
}

// committedCapacity sums reservoir capacities of a unit, optionally
// excluding one reservoir (for updates re-validating their own row).
func committedCapacity(tx *gorm.DB, unitID, excludeReservoirID int64) (int, error) {
	q := tx.Model(&model.Reservoir{}).Where("unit_id = ?", unitID)
	if excludeReservoirID != 0 {
		q = q.Where("id <> ?", excludeReservoirID)
	}
	var committed int
	err := q.Select("COALESCE(SUM(capacity_liters), 0)").Scan(&committed).Error
	return committed, err
}

func guardReservoirDeletion(tx *gorm.DB, reservoir model.Reservoir) error {
	var count int64
	if err := tx.Model(&model.ReservoirSnapshot{}).
		Where("reservoir_id = ?", reservoir.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperr.Conflict("cannot delete: reservoir %q has recorded history", reservoir.Name)
	}
	return nil
}

func deleteReservoir(tx *gorm.DB, id, userID int64) error {
	var reservoir model.Reservoir
	if err := tx.First(&reservoir, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("reservoir not found")
		}
		return err
	}

	if _, err := lockUnit(tx, reservoir.UnitID, userID); err != nil {
		return err
	}
	if err := guardReservoirDeletion(tx, reservoir); err != nil {
		return err
	}

	if err := tx.Where("reservoir_id = ?", reservoir.ID).
		Delete(&model.ReservoirDevice{}).Error; err != nil {
		return fmt.Errorf("failed to remove device links for reservoir %d: %w", reservoir.ID, err)
	}
	if err := tx.Exec("DELETE FROM subscription_reservoir_mapping WHERE reservoir_id = ?", reservoir.ID).Error; err != nil {
		return fmt.Errorf("failed to remove alert subscriptions for reservoir %d: %w", reservoir.ID, err)
	}
	return tx.Delete(&model.Reservoir{}, reservoir.ID).Error
}

// allocateDevice implements the free-pool strategy: deterministic lowest-id
// pick among devices with no active link, create-on-empty.
func allocateDevice(tx *gorm.DB, now time.Time) (model.Device, error) {
	linked := tx.Model(&model.ReservoirDevice{}).
		Select("device_id").
		Where("removed_at IS NULL")

	var device model.Device
	err := tx.Where("id NOT IN (?)", linked).Order("id").First(&device).Error
	if err == nil {
		log.Printf("Reusing free device %d", device.ID)
		return device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Device{}, err
	}

	device = model.Device{InstalledAt: now}
	if err := tx.Create(&device).Error; err != nil {
		return model.Device{}, fmt.Errorf("failed to provision device: %w", err)
	}
	log.Printf("Provisioned new device %d", device.ID)
	return device, nil
}
