// Package sim generates the synthetic daily telemetry: one level snapshot
// per reservoir and one reading per device, each on its own timer. There is
// no real device protocol; the values are drawn from an injectable
// randomness source.
package sim

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"aqua-monitor-backend/config"
	"aqua-monitor-backend/internal/apperr"
	"aqua-monitor-backend/internal/model"
	"aqua-monitor-backend/internal/notification"
)

// Service orchestrates the two daily generator jobs.
type Service struct {
	cfg        *config.Config
	db         *gorm.DB
	rng        *rand.Rand
	alerts     *notification.WorkerPool
	readCache  *cache.Cache
	snapshotAt clock
	readingAt  clock
}

type clock struct {
	hour   int
	minute int
}

// NewService creates and initializes the simulation service. A nil rng gets
// a time-seeded source; tests pass a seeded one.
func NewService(cfg *config.Config, db *gorm.DB, readCache *cache.Cache, rng *rand.Rand) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	alerts := notification.NewWorkerPool(cfg.WorkerPool.Size, db, &webpushOptions)

	return &Service{
		cfg:        cfg,
		db:         db,
		rng:        rng,
		alerts:     alerts,
		readCache:  readCache,
		snapshotAt: clock{cfg.Simulation.SnapshotHour, cfg.Simulation.SnapshotMinute},
		readingAt:  clock{cfg.Simulation.TelemetryHour, cfg.Simulation.TelemetryMinute},
	}
}

// Run starts the two job loops. It blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Simulation.Enabled {
		log.Println("Simulation is disabled. Not starting.")
		return
	}
	log.Println("Starting simulation service...")

	loc, err := time.LoadLocation(s.cfg.Simulation.Timezone)
	if err != nil {
		log.Printf("Invalid simulation timezone %q: %v. Falling back to UTC.", s.cfg.Simulation.Timezone, err)
		loc = time.UTC
	}

	s.alerts.Start(ctx)

	go s.runDaily(ctx, "snapshot", s.snapshotAt, loc, s.GenerateSnapshots)
	s.runDaily(ctx, "telemetry", s.readingAt, loc, s.GenerateReadings)
}

// runDaily fires job at the given wall-clock time every day.
func (s *Service) runDaily(ctx context.Context, name string, at clock, loc *time.Location, job func(context.Context, time.Time) error) {
	for {
		next := nextRun(time.Now().In(loc), at.hour, at.minute)
		log.Printf("Next %s job at %s", name, next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("%s job loop shutting down.", name)
			return
		case now := <-timer.C:
			if err := job(ctx, now); err != nil {
				// Job-level failure; the loop keeps running for the next day.
				log.Printf("%s job failed: %v", name, err)
			}
			if s.readCache != nil {
				s.readCache.Flush()
			}
		}
	}
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// GenerateSnapshots writes one level snapshot per reservoir. A status label
// missing from the vocabulary aborts the whole run; per-reservoir write
// errors are logged and skipped.
func (s *Service) GenerateSnapshots(ctx context.Context, now time.Time) error {
	log.Println("Generating reservoir snapshots...")

	statusIDs, err := s.loadStatusVocabulary(ctx)
	if err != nil {
		return err
	}

	var reservoirs []model.Reservoir
	if err := s.db.WithContext(ctx).Order("id").Find(&reservoirs).Error; err != nil {
		return err
	}

	for _, reservoir := range reservoirs {
		level := s.drawLevel(reservoir.CapacityLiters)
		statusName := statusForLevel(level, reservoir.CapacityLiters)

		snapshot := model.ReservoirSnapshot{
			LevelLiters: level,
			RecordedAt:  now,
			ReservoirID: reservoir.ID,
			StatusID:    statusIDs[statusName],
		}
		if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
			log.Printf("Error recording snapshot for reservoir %d: %v. Skipping.", reservoir.ID, err)
			continue
		}
		log.Printf("Snapshot recorded for reservoir %q: %d liters, status %s",
			reservoir.Name, level, statusName)

		if statusName == model.StatusCritical || statusName == model.StatusEmpty {
			s.alerts.Dispatch(notification.Alert{
				ReservoirID: reservoir.ID,
				Status:      statusName,
			})
		}
	}

	log.Println("Snapshot generation finished.")
	return nil
}

// GenerateReadings writes one telemetry reading per device, deriving the
// percentage level from the reservoir's most recent snapshot. Devices
// without an active link or without any snapshot are the normal skip path,
// not errors.
func (s *Service) GenerateReadings(ctx context.Context, now time.Time) error {
	log.Println("Generating device readings...")

	var devices []model.Device
	if err := s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return err
	}

	for _, device := range devices {
		reservoir, ok, err := s.linkedReservoir(ctx, device.ID)
		if err != nil {
			log.Printf("Error resolving link for device %d: %v. Skipping.", device.ID, err)
			continue
		}
		if !ok {
			log.Printf("Device %d has no linked reservoir. Skipping.", device.ID)
			continue
		}

		var latest model.ReservoirSnapshot
		err = s.db.WithContext(ctx).
			Where("reservoir_id = ?", reservoir.ID).
			Order("recorded_at DESC").
			First(&latest).Error
		if err == gorm.ErrRecordNotFound {
			log.Printf("Reservoir %d has no snapshots yet. Skipping device %d.", reservoir.ID, device.ID)
			continue
		}
		if err != nil {
			log.Printf("Error loading latest snapshot for reservoir %d: %v. Skipping.", reservoir.ID, err)
			continue
		}

		reading := model.DeviceReading{
			LevelPct:     levelPercent(latest.LevelLiters, reservoir.CapacityLiters),
			TurbidityNTU: s.rng.Intn(101),
			PH:           roundHalfUp(5+9*s.rng.Float64(), 2),
			RecordedAt:   now,
			DeviceID:     device.ID,
		}
		if err := s.db.WithContext(ctx).Create(&reading).Error; err != nil {
			log.Printf("Error recording reading for device %d: %v. Skipping.", device.ID, err)
			continue
		}
		log.Printf("Reading recorded for device %d: level %d%%, turbidity %d NTU, pH %.2f",
			device.ID, reading.LevelPct, reading.TurbidityNTU, reading.PH)
	}

	log.Println("Reading generation finished.")
	return nil
}

// loadStatusVocabulary resolves every status label to its id. A missing
// label is a configuration-integrity failure, fatal to the job run.
func (s *Service) loadStatusVocabulary(ctx context.Context) (map[string]int64, error) {
	var statuses []model.ReservoirStatus
	if err := s.db.WithContext(ctx).Find(&statuses).Error; err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(statuses))
	for _, st := range statuses {
		ids[st.Name] = st.ID
	}
	for _, name := range model.StatusNames {
		if _, ok := ids[name]; !ok {
			return nil, apperr.ConfigIntegrity("status %q not found in vocabulary", name)
		}
	}
	return ids, nil
}

// linkedReservoir finds the reservoir the device is actively linked to.
func (s *Service) linkedReservoir(ctx context.Context, deviceID int64) (model.Reservoir, bool, error) {
	var reservoir model.Reservoir
	err := s.db.WithContext(ctx).
		Joins("JOIN reservoir_devices ON reservoir_devices.reservoir_id = reservoirs.id").
		Where("reservoir_devices.device_id = ? AND reservoir_devices.removed_at IS NULL", deviceID).
		First(&reservoir).Error
	if err == gorm.ErrRecordNotFound {
		return model.Reservoir{}, false, nil
	}
	if err != nil {
		return model.Reservoir{}, false, err
	}
	return reservoir, true, nil
}

// drawLevel draws a level uniformly between 5% and 100% of capacity, never
// below one liter.
func (s *Service) drawLevel(capacityLiters int) int {
	fraction := 0.05 + 0.95*s.rng.Float64()
	level := int(float64(capacityLiters) * fraction)
	if level < 1 {
		level = 1
	}
	return level
}

// statusForLevel maps a percentage of capacity onto the status vocabulary.
func statusForLevel(levelLiters, capacityLiters int) string {
	var pct float64
	if capacityLiters > 0 {
		pct = float64(levelLiters) / float64(capacityLiters) * 100
	}

	switch {
	case pct >= 90:
		return model.StatusFull
	case pct >= 70:
		return model.StatusNormal
	case pct >= 40:
		return model.StatusLow
	case pct >= 10:
		return model.StatusCritical
	default:
		return model.StatusEmpty
	}
}

// levelPercent is floor(liters*100/capacity), 0 when capacity is 0.
func levelPercent(levelLiters, capacityLiters int) int {
	if capacityLiters <= 0 {
		return 0
	}
	return int(float64(levelLiters) * 100 / float64(capacityLiters))
}

// roundHalfUp rounds to the given number of decimal places, ties away from
// the floor.
func roundHalfUp(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Floor(v*shift+0.5) / shift
}
