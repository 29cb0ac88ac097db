package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/db"
	"aqua-monitor-backend/internal/model"
)

// newTestDB opens a per-test in-memory SQLite database with the full schema
// and seeded status vocabulary.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func seedUserAndUnit(t *testing.T, gdb *gorm.DB, capacityLiters int) (model.User, model.Unit) {
	t.Helper()

	user := model.User{Name: "Ana", Email: fmt.Sprintf("%s@example.com", strings.ReplaceAll(t.Name(), "/", "_")), PasswordHash: "x"}
	require.NoError(t, gdb.Create(&user).Error)

	unit := model.Unit{Name: "Casa", CapacityLiters: capacityLiters, UserID: user.ID}
	require.NoError(t, gdb.Create(&unit).Error)
	return user, unit
}

func TestCreateReservoirCapacityInvariant(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)

	// First reservoir of 600L fits the 1000L budget.
	a := model.Reservoir{Name: "A", CapacityLiters: 600, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &a, user.ID, now))

	// 600+500 overshoots: rejected with BadRequest and no partial write.
	b := model.Reservoir{Name: "B", CapacityLiters: 500, UnitID: unit.ID}
	err := s.CreateReservoir(ctx, &b, user.ID, now)
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "1000")
	assert.Contains(t, err.Error(), "600")
	assert.Contains(t, err.Error(), "500")

	var reservoirCount, linkCount, deviceCount int64
	gdb.Model(&model.Reservoir{}).Count(&reservoirCount)
	gdb.Model(&model.ReservoirDevice{}).Count(&linkCount)
	gdb.Model(&model.Device{}).Count(&deviceCount)
	assert.Equal(t, int64(1), reservoirCount, "failed creation must not leave partial writes")
	assert.Equal(t, int64(1), linkCount)
	assert.Equal(t, int64(1), deviceCount)

	// 600+400 fills the budget exactly and auto-assigns a device.
	b = model.Reservoir{Name: "B", CapacityLiters: 400, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &b, user.ID, now))

	var link model.ReservoirDevice
	require.NoError(t, gdb.Where("reservoir_id = ?", b.ID).First(&link).Error)
	assert.Nil(t, link.RemovedAt)

	// A single reservoir larger than the whole unit is its own error case.
	c := model.Reservoir{Name: "C", CapacityLiters: 1001, UnitID: unit.ID}
	err = s.CreateReservoir(ctx, &c, user.ID, now)
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestCreateReservoirOwnership(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	_, unit := seedUserAndUnit(t, gdb, 1000)

	intruder := model.User{Name: "Eve", Email: "eve@example.com", PasswordHash: "x"}
	require.NoError(t, gdb.Create(&intruder).Error)

	r := model.Reservoir{Name: "R", CapacityLiters: 100, UnitID: unit.ID}
	err := s.CreateReservoir(ctx, &r, intruder.ID, now)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	r = model.Reservoir{Name: "R", CapacityLiters: 100, UnitID: unit.ID + 99}
	err = s.CreateReservoir(ctx, &r, intruder.ID, now)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAllocateDevicePooling(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	// Empty pool provisions a new device.
	first, err := s.AllocateDevice(ctx, now)
	require.NoError(t, err)

	var deviceCount int64
	gdb.Model(&model.Device{}).Count(&deviceCount)
	assert.Equal(t, int64(1), deviceCount)

	// Still unlinked, so allocation is deterministic: same device again.
	again, err := s.AllocateDevice(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	gdb.Model(&model.Device{}).Count(&deviceCount)
	assert.Equal(t, int64(1), deviceCount, "reuse must not grow the device table")

	// Linking it takes it out of the pool; the next allocation provisions.
	link := model.ReservoirDevice{InstalledAt: now, ReservoirID: 1, DeviceID: first.ID}
	require.NoError(t, gdb.Create(&link).Error)

	second, err := s.AllocateDevice(ctx, now)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// A removed link returns the device to the pool; lowest id wins.
	removed := now
	require.NoError(t, gdb.Model(&model.ReservoirDevice{}).
		Where("device_id = ?", first.ID).
		Update("removed_at", &removed).Error)

	third, err := s.AllocateDevice(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestDeleteReservoirGuard(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)

	r := model.Reservoir{Name: "R", CapacityLiters: 500, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &r, user.ID, now))

	var status model.ReservoirStatus
	require.NoError(t, gdb.Where("name = ?", model.StatusNormal).First(&status).Error)

	snapshot := model.ReservoirSnapshot{LevelLiters: 400, RecordedAt: now, ReservoirID: r.ID, StatusID: status.ID}
	require.NoError(t, gdb.Create(&snapshot).Error)

	// Blocked while history exists.
	err := s.DeleteReservoir(ctx, r.ID, user.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	var reservoirCount int64
	gdb.Model(&model.Reservoir{}).Count(&reservoirCount)
	assert.Equal(t, int64(1), reservoirCount, "blocked delete must not remove rows")

	// With the history gone the delete succeeds, removes the link and
	// returns the device to the free pool.
	require.NoError(t, gdb.Delete(&model.ReservoirSnapshot{}, snapshot.ID).Error)
	require.NoError(t, s.DeleteReservoir(ctx, r.ID, user.ID))

	var linkCount, deviceCount int64
	gdb.Model(&model.ReservoirDevice{}).Count(&linkCount)
	gdb.Model(&model.Device{}).Count(&deviceCount)
	assert.Equal(t, int64(0), linkCount)
	assert.Equal(t, int64(1), deviceCount, "devices are pooled, never deleted")

	_, err = s.AllocateDevice(ctx, now)
	require.NoError(t, err)
	gdb.Model(&model.Device{}).Count(&deviceCount)
	assert.Equal(t, int64(1), deviceCount, "freed device must be reused")
}

func TestDeleteUnitFullAbort(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)

	clean := model.Reservoir{Name: "Clean", CapacityLiters: 300, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &clean, user.ID, now))
	blocked := model.Reservoir{Name: "Blocked", CapacityLiters: 300, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &blocked, user.ID, now))

	var status model.ReservoirStatus
	require.NoError(t, gdb.Where("name = ?", model.StatusLow).First(&status).Error)
	snapshot := model.ReservoirSnapshot{LevelLiters: 100, RecordedAt: now, ReservoirID: blocked.ID, StatusID: status.ID}
	require.NoError(t, gdb.Create(&snapshot).Error)

	// One blocked reservoir aborts the whole cascade before any delete.
	err := s.DeleteUnit(ctx, unit.ID, user.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Blocked", "conflict must name the blocking reservoir")

	var unitCount, reservoirCount int64
	gdb.Model(&model.Unit{}).Count(&unitCount)
	gdb.Model(&model.Reservoir{}).Count(&reservoirCount)
	assert.Equal(t, int64(1), unitCount)
	assert.Equal(t, int64(2), reservoirCount, "no reservoir may be removed on abort")

	// Once the history is gone the cascade removes everything.
	require.NoError(t, gdb.Delete(&model.ReservoirSnapshot{}, snapshot.ID).Error)
	require.NoError(t, s.DeleteUnit(ctx, unit.ID, user.ID))

	gdb.Model(&model.Unit{}).Count(&unitCount)
	gdb.Model(&model.Reservoir{}).Count(&reservoirCount)
	var linkCount int64
	gdb.Model(&model.ReservoirDevice{}).Count(&linkCount)
	assert.Equal(t, int64(0), unitCount)
	assert.Equal(t, int64(0), reservoirCount)
	assert.Equal(t, int64(0), linkCount)
}

func TestUpdateReservoirExcludesOwnCapacity(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)

	a := model.Reservoir{Name: "A", CapacityLiters: 600, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &a, user.ID, now))
	b := model.Reservoir{Name: "B", CapacityLiters: 400, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &b, user.ID, now))

	// Growing B to 401 overshoots (600 committed by A).
	_, err := s.UpdateReservoir(ctx, b.ID, "B", 401, user.ID)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	// Shrinking A frees room for B to grow.
	_, err = s.UpdateReservoir(ctx, a.ID, "A", 500, user.ID)
	require.NoError(t, err)
	updated, err := s.UpdateReservoir(ctx, b.ID, "B maior", 500, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, updated.CapacityLiters)
	assert.Equal(t, "B maior", updated.Name)
}

func TestUpdateUnitBelowCommittedCapacity(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)

	a := model.Reservoir{Name: "A", CapacityLiters: 600, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &a, user.ID, now))

	_, err := s.UpdateUnit(ctx, unit.ID, "Casa", 599, user.ID)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	updated, err := s.UpdateUnit(ctx, unit.ID, "Casa", 600, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, updated.CapacityLiters)
}

func TestReservoirOwnedBy(t *testing.T) {
	gdb := newTestDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	now := time.Now().UTC()

	user, unit := seedUserAndUnit(t, gdb, 1000)
	r := model.Reservoir{Name: "R", CapacityLiters: 100, UnitID: unit.ID}
	require.NoError(t, s.CreateReservoir(ctx, &r, user.ID, now))

	intruder := model.User{Name: "Eve", Email: "eve2@example.com", PasswordHash: "x"}
	require.NoError(t, gdb.Create(&intruder).Error)

	owned, err := s.ReservoirOwnedBy(ctx, r.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = s.ReservoirOwnedBy(ctx, r.ID, intruder.ID)
	require.NoError(t, err)
	assert.False(t, owned)
}
