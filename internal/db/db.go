package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/model"
)

// Init initializes the database connection and runs migrations. The driver
// is chosen from the DSN: anything starting with "file:" or ending in ".db"
// opens SQLite, everything else goes through the Postgres driver. A single
// user's presence log fits comfortably in SQLite; Postgres is for shared
// deployments.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector := openDialector(cfg.DSN)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
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
	if err := db.AutoMigrate(
		&model.ActiveSegment{},
		&model.ChatMessage{},
		&model.PipelineStateRecord{},
		&model.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if err := applySegmentIndexes(db); err != nil {
		log.Printf("Warning: failed to apply segment index DDL: %v. Continuing without it.", err)
	}

	log.Println("Database initialization complete.")
	return db, nil
}

func openDialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "file:") || strings.HasSuffix(dsn, ".db") || dsn == ":memory:" {
		return sqlite.Open(dsn)
	}
	return postgres.Open(dsn)
}

// applySegmentIndexes adds the composite index the overlap query leans on.
// AutoMigrate only creates the single-column indexes from the struct tags.
func applySegmentIndexes(db *gorm.DB) error {
	ddls := []string{
		"CREATE INDEX IF NOT EXISTS idx_active_segments_window ON active_segments (start_time, end_time);",
		"CREATE INDEX IF NOT EXISTS idx_active_segments_open ON active_segments (is_provisional, start_time);",
	}
	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
