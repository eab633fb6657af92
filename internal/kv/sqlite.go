package kv

import (
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type document struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (document) TableName() string {
	return "kv_documents"
}

// OpenSQLite establishes a SQLite connection and performs schema migrations
// for the document table.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&document{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("storage initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLite is the durable Store implementation backed by a single document
// table.
type SQLite struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// SQLiteConfig carries the dependencies for NewSQLite.
type SQLiteConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewSQLite wraps an open GORM handle as a Store.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLite{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get implements Store.
func (s *SQLite) Get(key string) ([]byte, bool, error) {
	var row document
	err := s.db.Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(row.ValueJSON), true, nil
}

// Set implements Store.
func (s *SQLite) Set(key string, value []byte) error {
	row := document{
		Key:              key,
		ValueJSON:        string(value),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at_s"}),
	}).Create(&row).Error
}

// Delete implements Store.
func (s *SQLite) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&document{}).Error
}
