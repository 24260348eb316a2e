package usage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store persists usage records and per-user spend limits
type Store struct {
	db *gorm.DB
}

// NewStore opens the configured database and migrates the usage tables
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		if cfg.DBName != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBName), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.GetDSN())
	case "mysql":
		dialector = mysql.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}, &SpendLimit{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveRecord(ctx context.Context, record *Record) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// SpentSince sums the cost of a user's records created at or after since
func (s *Store) SpentSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("COALESCE(SUM(cost), 0)").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&total).Error
	return total, err
}

// GetLimit returns the user's monthly limit override, if one exists
func (s *Store) GetLimit(ctx context.Context, userID string) (float64, bool, error) {
	var limit SpendLimit
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&limit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return limit.MonthlyLimit, true, nil
}

// SetLimit creates or replaces the user's monthly limit override
func (s *Store) SetLimit(ctx context.Context, userID string, monthlyLimit float64) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"monthly_limit", "updated_at"}),
		}).
		Create(&SpendLimit{UserID: userID, MonthlyLimit: monthlyLimit, UpdatedAt: time.Now().UTC()}).Error
}

// ListRecords returns a user's records created at or after since, newest first
func (s *Store) ListRecords(ctx context.Context, userID string, since time.Time) ([]*Record, error) {
	var records []*Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at desc").
		Find(&records).Error
	return records, err
}
