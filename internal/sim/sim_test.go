package sim

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aqua-monitor-backend/config"
	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/db"
	"aqua-monitor-backend/internal/model"
)

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

func newTestService(t *testing.T, gdb *gorm.DB, seed int64) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Simulation.Enabled = true
	// Buffer room for dispatched alerts; no workers run during tests.
	cfg.WorkerPool.Size = 16
	return NewService(cfg, gdb, nil, rand.New(rand.NewSource(seed)))
}

var seedSeq atomic.Int64

func seedReservoir(t *testing.T, gdb *gorm.DB, capacityLiters int) model.Reservoir {
	t.Helper()

	user := model.User{Name: "Ana", Email: fmt.Sprintf("sim-%d@example.com", seedSeq.Add(1)), PasswordHash: "x"}
	require.NoError(t, gdb.Create(&user).Error)
	unit := model.Unit{Name: "Casa", CapacityLiters: capacityLiters, UserID: user.ID}
	require.NoError(t, gdb.Create(&unit).Error)
	reservoir := model.Reservoir{Name: "R", CapacityLiters: capacityLiters, InstalledAt: time.Now(), UnitID: unit.ID}
	require.NoError(t, gdb.Create(&reservoir).Error)
	return reservoir
}

func linkDevice(t *testing.T, gdb *gorm.DB, reservoirID int64) model.Device {
	t.Helper()
	device := model.Device{InstalledAt: time.Now()}
	require.NoError(t, gdb.Create(&device).Error)
	link := model.ReservoirDevice{InstalledAt: time.Now(), ReservoirID: reservoirID, DeviceID: device.ID}
	require.NoError(t, gdb.Create(&link).Error)
	return device
}

func TestStatusForLevel(t *testing.T) {
	cases := []struct {
		level, capacity int
		want            string
	}{
		{900, 1000, model.StatusFull},
		{1000, 1000, model.StatusFull},
		{899, 1000, model.StatusNormal},
		{700, 1000, model.StatusNormal},
		{699, 1000, model.StatusLow},
		{400, 1000, model.StatusLow},
		{399, 1000, model.StatusCritical},
		{100, 1000, model.StatusCritical},
		{99, 1000, model.StatusEmpty},
		{0, 1000, model.StatusEmpty},
		{50, 0, model.StatusEmpty}, // zero capacity cannot be full
	}
	for _, tc := range cases {
		got := statusForLevel(tc.level, tc.capacity)
		assert.Equalf(t, tc.want, got, "level %d of %d", tc.level, tc.capacity)
	}
}

func TestDrawLevelBounds(t *testing.T) {
	svc := newTestService(t, nil, 42)

	for i := 0; i < 1000; i++ {
		level := svc.drawLevel(1000)
		assert.GreaterOrEqual(t, level, 50, "minimum draw is 5 percent of capacity")
		assert.LessOrEqual(t, level, 1000)
	}

	// A tiny reservoir still records at least one liter.
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, svc.drawLevel(3), 1)
	}
	assert.Equal(t, 1, svc.drawLevel(0))
}

func TestLevelPercent(t *testing.T) {
	assert.Equal(t, 80, levelPercent(400, 500))
	assert.Equal(t, 66, levelPercent(200, 300), "fraction truncates")
	assert.Equal(t, 100, levelPercent(500, 500))
	assert.Equal(t, 0, levelPercent(400, 0))
	assert.Equal(t, 0, levelPercent(400, -1))
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 7.13, roundHalfUp(7.125, 2))
	assert.Equal(t, 7.12, roundHalfUp(7.124, 2))
	assert.Equal(t, 5.0, roundHalfUp(5.0, 2))
	assert.Equal(t, 14.0, roundHalfUp(13.996, 2))
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 8, 1, 5, 0, 0, 0, time.UTC)
	next := nextRun(now, 6, 0)
	assert.Equal(t, time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC), next)

	// At or past the mark it rolls to the next day.
	now = time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	next = nextRun(now, 6, 0)
	assert.Equal(t, time.Date(2026, 8, 2, 6, 0, 0, 0, time.UTC), next)

	now = time.Date(2026, 8, 1, 7, 30, 0, 0, time.UTC)
	next = nextRun(now, 6, 10)
	assert.Equal(t, time.Date(2026, 8, 2, 6, 10, 0, 0, time.UTC), next)
}

func TestGenerateSnapshots(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, 42)

	reservoir := seedReservoir(t, gdb, 1000)
	now := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, svc.GenerateSnapshots(context.Background(), now))

	var snapshot model.ReservoirSnapshot
	require.NoError(t, gdb.Preload("Status").
		Where("reservoir_id = ?", reservoir.ID).
		First(&snapshot).Error)

	assert.GreaterOrEqual(t, snapshot.LevelLiters, 1)
	assert.LessOrEqual(t, snapshot.LevelLiters, 1000)
	assert.True(t, snapshot.RecordedAt.Equal(now))
	assert.Equal(t, statusForLevel(snapshot.LevelLiters, 1000), snapshot.Status.Name,
		"stored status must match the level that was drawn")
}

func TestGenerateSnapshotsMissingStatusIsFatal(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, 42)

	seedReservoir(t, gdb, 1000)
	require.NoError(t, gdb.Where("name = ?", model.StatusCritical).
		Delete(&model.ReservoirStatus{}).Error)

	err := svc.GenerateSnapshots(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfigIntegrity, apperr.KindOf(err))

	var count int64
	gdb.Model(&model.ReservoirSnapshot{}).Count(&count)
	assert.Equal(t, int64(0), count, "a broken vocabulary must abort before any write")
}

func TestGenerateReadings(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, 42)

	reservoir := seedReservoir(t, gdb, 500)
	device := linkDevice(t, gdb, reservoir.ID)

	var status model.ReservoirStatus
	require.NoError(t, gdb.Where("name = ?", model.StatusNormal).First(&status).Error)

	older := model.ReservoirSnapshot{LevelLiters: 100, RecordedAt: time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC), ReservoirID: reservoir.ID, StatusID: status.ID}
	require.NoError(t, gdb.Create(&older).Error)
	latest := model.ReservoirSnapshot{LevelLiters: 400, RecordedAt: time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC), ReservoirID: reservoir.ID, StatusID: status.ID}
	require.NoError(t, gdb.Create(&latest).Error)

	now := time.Date(2026, 8, 1, 6, 10, 0, 0, time.UTC)
	require.NoError(t, svc.GenerateReadings(context.Background(), now))

	var reading model.DeviceReading
	require.NoError(t, gdb.Where("device_id = ?", device.ID).First(&reading).Error)

	assert.Equal(t, 80, reading.LevelPct, "percentage derives from the newest snapshot")
	assert.GreaterOrEqual(t, reading.TurbidityNTU, 0)
	assert.LessOrEqual(t, reading.TurbidityNTU, 100)
	assert.GreaterOrEqual(t, reading.PH, 5.0)
	assert.LessOrEqual(t, reading.PH, 14.0)
	assert.Equal(t, reading.PH, roundHalfUp(reading.PH, 2), "pH carries two decimal places")
	assert.True(t, reading.RecordedAt.Equal(now))
}

func TestGenerateReadingsSkipPaths(t *testing.T) {
	gdb := newTestDB(t)
	svc := newTestService(t, gdb, 42)

	// Device with no link at all.
	unlinked := model.Device{InstalledAt: time.Now()}
	require.NoError(t, gdb.Create(&unlinked).Error)

	// Device whose link was removed.
	withRemoved := seedReservoir(t, gdb, 500)
	removedDevice := linkDevice(t, gdb, withRemoved.ID)
	removedAt := time.Now().UTC()
	require.NoError(t, gdb.Model(&model.ReservoirDevice{}).
		Where("device_id = ?", removedDevice.ID).
		Update("removed_at", &removedAt).Error)

	// Linked device whose reservoir has no snapshots yet.
	noHistory := seedReservoir(t, gdb, 500)
	linkDevice(t, gdb, noHistory.ID)

	require.NoError(t, svc.GenerateReadings(context.Background(), time.Now()),
		"skip paths are not errors")

	var count int64
	gdb.Model(&model.DeviceReading{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestGenerateSnapshotsIsDeterministicWithSeed(t *testing.T) {
	run := func(t *testing.T, name string) int {
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
		gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err)
		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { sqlDB.Close() })
		require.NoError(t, db.Migrate(gdb))

		reservoir := seedReservoir(t, gdb, 1000)
		svc := newTestService(t, gdb, 7)
		require.NoError(t, svc.GenerateSnapshots(context.Background(), time.Now()))

		var snapshot model.ReservoirSnapshot
		require.NoError(t, gdb.Where("reservoir_id = ?", reservoir.ID).First(&snapshot).Error)
		return snapshot.LevelLiters
	}

	first := run(t, "determinism_a")
	second := run(t, "determinism_b")
	assert.Equal(t, first, second, "same seed, same draw")
}
