package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aqua-monitor-backend/config"
	"aqua-monitor-backend/internal/model"
)

// Init initializes the database connection, runs migrations and seeds the
// status vocabulary.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate runs the schema migrations and seeds the status vocabulary. Split
// out from Init so tests can apply it to an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Unit{},
		&model.Reservoir{},
		&model.Device{},
		&model.ReservoirDevice{},
		&model.ReservoirStatus{},
		&model.ReservoirSnapshot{},
		&model.DeviceReading{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}

	return seedStatuses(db)
}

// seedStatuses inserts the fixed vocabulary of reservoir condition labels.
func seedStatuses(db *gorm.DB) error {
	for _, name := range model.StatusNames {
		status := model.ReservoirStatus{Name: name}
		if err := db.Where("name = ?", name).FirstOrCreate(&status).Error; err != nil {
			return fmt.Errorf("failed to seed status %q: %w", name, err)
		}
	}
	return nil
}
