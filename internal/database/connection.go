// database/connection.go
package database

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
)

var logOutput io.Writer = os.Stdout

// SetLogOutput перенаправляет SQL-лог gorm (для MCP stdio)
func SetLogOutput(w io.Writer) { logOutput = w }

// Connect открывает соединение с БД, повторяя попытки пока база поднимается
func Connect(cfg config.DatabaseConfig, env string) (*gorm.DB, error) {
	slog.Info("Connecting to database",
		"driver", cfg.Driver,
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DBName,
	)

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	var db *gorm.DB
	for attempt := 1; attempt <= retries; attempt++ {
		db, err = open(dialector, env)
		if err == nil {
			break
		}
		slog.Warn("Waiting for database",
			"attempt", attempt,
			"max_attempts", retries,
			"error", err,
		)
		if attempt < retries {
			time.Sleep(cfg.RetryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retries, err)
	}

	if cfg.Driver == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	slog.Info("Database connection successful")
	return db, nil
}

// OpenSQLite открывает файловую SQLite базу (локальная разработка и тесты)
func OpenSQLite(path string) (*gorm.DB, error) {
	return open(gormlite.Open(sqliteDSN(path)), "test")
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.DBName,
			cfg.Port,
			cfg.SSLMode,
			cfg.TimeZone,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		return gormlite.Open(sqliteDSN(cfg.SQLitePath)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
}

func open(dialector gorm.Dialector, env string) (*gorm.DB, error) {
	logLevel := logger.Info
	switch env {
	case "production":
		logLevel = logger.Warn
	case "test":
		logLevel = logger.Silent
	}

	gormLogger := logger.New(log.New(logOutput, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  env != "production",
	})

	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close корректно закрывает соединение с БД
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	slog.Info("Closing database connection")
	return sqlDB.Close()
}

// HealthCheck проверяет состояние базы данных
func HealthCheck(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	return nil
}
