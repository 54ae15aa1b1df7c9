// Package database persists users, their uploaded ledger rows and analysis
// runs in PostgreSQL through GORM.
package database

import (
	"fmt"
	"time"

	"github.com/phuslu/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the GORM connection
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM instance
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect opens a PostgreSQL connection and configures the pool
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", host).Int("port", port).Str("db", dbname).Msg("Database connection established")
	return &Database{db: db}, nil
}

// InitSchema migrates all tables
func (d *Database) InitSchema() error {
	if err := d.db.AutoMigrate(&User{}, &Trade{}, &AnalysisRun{}); err != nil {
		return WrapDBError("InitSchema", err)
	}
	log.Info().Msg("Database schema ready")
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	log.Info().Msg("Closing database connection")
	return sqlDB.Close()
}
