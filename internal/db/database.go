// Package db wires the GORM database for LUMEN.BUILD. A DATABASE_URL selects
// Postgres; without one the service falls back to a local SQLite file, which
// keeps development runs dependency-free.
package db

import (
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lumen-build/internal/logging"
	"lumen-build/pkg/models"
)

// Database wraps the GORM instance.
type Database struct {
	DB *gorm.DB
}

// New opens the database connection and runs migrations.
func New() (*Database, error) {
	logLevel := logger.Silent
	if os.Getenv("ENVIRONMENT") != "production" {
		logLevel = logger.Warn
	}
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "lumen.db"
		}
		db, err = gorm.Open(sqlite.Open(path), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.S().Info("database connected")
	return database, nil
}

// Migrate creates or updates the schema for all models.
func (d *Database) Migrate() error {
	return d.DB.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.ProjectFile{},
		&models.Message{},
		&models.AIProviderConfig{},
		&models.AIUsageRecord{},
		&models.BuildAudit{},
		&models.PromptTemplate{},
	)
}
