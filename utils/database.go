package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/parakkad/fundraiser/config"
	"github.com/parakkad/fundraiser/models"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDatabase opens the configured database and sizes the connection pool.
func InitDatabase(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	// production only logs errors
	logLevel := logger.Warn
	if os.Getenv("GO_ENV") == "production" {
		logLevel = logger.Error
	}

	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		log.Info("Connecting to database",
			zap.String("driver", cfg.Driver),
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("dbname", cfg.DBName),
		)
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		log.Info("Opening database", zap.String("driver", cfg.Driver), zap.String("path", cfg.Path))
		dialector = sqlite.Open(cfg.Path + "?_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(15)
		sqlDB.SetMaxOpenConns(120)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	log.Info("Database connection established", zap.String("driver", cfg.Driver))
	return db, nil
}

// MigrateDatabase creates or updates the tables this service owns.
func MigrateDatabase(db *gorm.DB, log *zap.Logger) error {
	log.Info("Starting database migration")
	if err := db.AutoMigrate(&models.Payment{}, &models.WebhookEvent{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("Database migration completed")
	return nil
}
