package database

import (
	"fmt"
	"os"
	"time"

	"github.com/NicolasFerec/ferelix-server/internal/config"
	"github.com/NicolasFerec/ferelix-server/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize sets up the database connection based on configuration and
// migrates the schema. Fatal on failure; the server cannot run without it.
func Initialize() error {
	cfg := config.Get()

	var err error
	switch cfg.Database.Type {
	case "postgres":
		DB, err = connectPostgres(cfg)
	case "sqlite":
		DB, err = connectSQLite(cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := configureConnectionPool(DB, cfg.Database.Type); err != nil {
		logger.Warn("Failed to configure connection pool: %v", err)
	}

	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database initialized (%s)", cfg.Database.Type)
	return nil
}

// Migrate runs schema migration for every model owned by the core.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Library{},
		&MediaFile{},
		&VideoTrack{},
		&AudioTrack{},
		&SubtitleTrack{},
		&RecommendationRow{},
		&User{},
		&RefreshToken{},
		&Settings{},
		&TranscodingJob{},
	)
}

func connectPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.Database.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Database, cfg.Database.Port)
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func connectSQLite(cfg *config.Config) (*gorm.DB, error) {
	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// WAL keeps scanner batch writes from blocking readers.
	dsn := config.GetDatabasePath() + "?" +
		"_journal_mode=WAL&" +
		"_synchronous=NORMAL&" +
		"_busy_timeout=30000&" +
		"_foreign_keys=ON"

	return gorm.Open(sqlite.Open(dsn), gormConfig())
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func configureConnectionPool(db *gorm.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	switch dbType {
	case "postgres":
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(2 * time.Hour)
	default:
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// SetDB swaps the global database handle (used by tests).
func SetDB(db *gorm.DB) {
	DB = db
}

// HealthCheck verifies the connection is alive.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
