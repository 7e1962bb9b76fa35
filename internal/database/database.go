// Package database opens the state store behind the ledger.
package database

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"threatmesh/internal/domain"
	"threatmesh/internal/support"
)

type pooling int

const (
	poolFromEnv pooling = iota
	poolSingle
)

type settings struct {
	dialector gorm.Dialector
	logger    logger.Interface
	migrate   bool
	models    []any
	pool      pooling
}

type Option func(*settings)

var lastDSN atomic.Value

// Open connects, sizes the pool and migrates the engine tables.
func Open(opts ...Option) (*gorm.DB, error) {
	s := settings{
		logger:  silentLogger(),
		migrate: true,
		models:  Models(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.dialector == nil {
		return nil, fmt.Errorf("database: no dialector configured")
	}

	db, err := gorm.Open(s.dialector, &gorm.Config{TranslateError: true, Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("database: open connection: %w", err)
	}

	switch s.pool {
	case poolSingle:
		if err := pinSingleConnection(db); err != nil {
			return nil, err
		}
	default:
		if err := sizePoolFromEnv(db); err != nil {
			return nil, err
		}
	}

	if s.migrate && len(s.models) > 0 {
		if err := db.AutoMigrate(s.models...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Info("Database migration completed.", "tables", len(s.models))
	}
	return db, nil
}

// Models lists every table the engine owns.
func Models() []any {
	return []any{
		domain.LedgerEntry{},
		domain.Commitment{},
		domain.EvidenceRecord{},
		domain.ReporterMark{},
		domain.Revocation{},
		domain.ThreatStatus{},
		domain.WhitelistEntry{},
		domain.StakeBalance{},
	}
}

// Postgres targets the production database described by the DB_* variables.
func Postgres() Option {
	return func(s *settings) {
		dsn := postgresDSN()
		lastDSN.Store(dsn)
		s.dialector = postgres.Open(dsn)
	}
}

// SQLite targets a file or in-memory database for development. SQLite allows
// one writer at a time, so the pool is pinned to one connection.
func SQLite(dsn string) Option {
	return func(s *settings) {
		s.dialector = sqlite.Open(dsn)
		s.pool = poolSingle
	}
}

func WithoutMigrations() Option {
	return func(s *settings) { s.migrate = false }
}

func WithLogger(l logger.Interface) Option {
	return func(s *settings) { s.logger = l }
}

// MaskedDSN returns the last postgres DSN used, password hidden.
func MaskedDSN() string {
	raw, _ := lastDSN.Load().(string)
	fields := strings.Fields(raw)
	for i, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[i] = "password=***"
		}
	}
	return strings.Join(fields, " ")
}

func postgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		support.GetEnv("DB_HOST", "localhost"),
		support.GetEnv("DB_PORT", "5434"),
		support.GetEnv("DB_USERNAME", "admin"),
		support.GetEnv("DB_PASSWORD", "admin"),
		support.GetEnv("DB_NAME", "threatmesh"),
		support.GetEnv("DB_SSLMODE", "disable"),
	)
}

func silentLogger() logger.Interface {
	return logger.New(log.Default(), logger.Config{LogLevel: logger.Silent})
}

func pinSingleConnection(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		log.Warn("database: set sqlite busy timeout", "error", err)
	}
	return nil
}

func sizePoolFromEnv(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}

	maxOpen := support.GetEnvInt("DB_MAX_OPEN_CONNS", 32)
	maxIdle := min(support.GetEnvInt("DB_MAX_IDLE_CONNS", maxOpen), maxOpen)

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(support.GetEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute))
	sqlDB.SetConnMaxIdleTime(support.GetEnvDuration("DB_CONN_MAX_IDLE_TIME", time.Minute))
	return nil
}
