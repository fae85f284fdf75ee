// Package history persists diagnosis results in SQLite or MySQL through gorm.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agrisol/cropdoctor/internal/conf"
	"github.com/agrisol/cropdoctor/internal/errors"
	"github.com/agrisol/cropdoctor/internal/logger"
)

const (
	// DefaultLimit is the page size of Recent when the query does not set one
	DefaultLimit = 50
	// MaxLimit caps the page size of Recent
	MaxLimit = 500

	slowQueryThreshold = 200 * time.Millisecond
)

// Record is one persisted diagnosis
type Record struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PredictionID   string    `gorm:"size:36;uniqueIndex" json:"prediction_id"`
	Crop           string    `gorm:"size:64;index" json:"crop_type"`
	Disease        string    `gorm:"size:128;index" json:"predicted_class"`
	Confidence     float64   `json:"confidence"`
	Severity       string    `gorm:"size:16" json:"severity"`
	Urgency        string    `gorm:"size:16" json:"treatment_urgency"`
	ModelPath      string    `gorm:"size:512" json:"model_path"`
	ClassMismatch  bool      `json:"class_mismatch"`
	ProcessingTime float64   `json:"processing_time"`
	CreatedAt      time.Time `gorm:"index" json:"timestamp"`
}

// TableName pins the table name regardless of gorm naming strategy
func (Record) TableName() string { return "diagnoses" }

// Query filters Recent
type Query struct {
	Crop  string
	Limit int
}

// Count is one grouped count
type Count struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats aggregates stored diagnoses
type Stats struct {
	Total     int64   `json:"total"`
	ByCrop    []Count `json:"by_crop"`
	ByDisease []Count `json:"by_disease"`
}

// Observer receives store operation outcomes, typically metrics
type Observer interface {
	RecordOperation(operation string, duration time.Duration, err error)
}

// Store is the gorm backed history store. It is safe for concurrent use.
type Store struct {
	db       *gorm.DB
	driver   string
	observer Observer
}

// Open connects to the configured database and migrates the schema.
func Open(settings *conf.HistorySettings, observer Observer) (*Store, error) {
	dialector, target, err := dialectorFor(settings)
	if err != nil {
		return nil, errors.New(err).
			Component("history").
			Category(errors.CategoryConfiguration).
			Context("driver", settings.Driver).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", settings.Driver, err)).
			Component("history").
			Category(errors.CategoryDatabase).
			Context("driver", settings.Driver).
			Build()
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.New(fmt.Errorf("failed to auto-migrate %s database: %w", settings.Driver, err)).
			Component("history").
			Category(errors.CategoryDatabase).
			Build()
	}

	GetLogger().Info("history database ready",
		logger.String("driver", settings.Driver),
		logger.String("target", target))

	return &Store{db: db, driver: settings.Driver, observer: observer}, nil
}

// dialectorFor returns the gorm dialector and a loggable target without credentials.
func dialectorFor(settings *conf.HistorySettings) (gorm.Dialector, string, error) {
	switch settings.Driver {
	case "sqlite":
		path := settings.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, "", fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqlite.Open(path + "?_journal_mode=WAL&_busy_timeout=5000"), path, nil
	case "mysql":
		m := settings.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.Username, m.Password, m.Host, m.Port, m.Database)
		return mysql.Open(dsn), fmt.Sprintf("%s:%d/%s", m.Host, m.Port, m.Database), nil
	default:
		return nil, "", fmt.Errorf("unknown history driver %q", settings.Driver)
	}
}

func (s *Store) observe(op string, start time.Time, err error) error {
	if s.observer != nil {
		s.observer.RecordOperation(op, time.Since(start), err)
	}
	if err == nil {
		return nil
	}
	return errors.New(fmt.Errorf("history %s: %w", op, err)).
		Component("history").
		Category(errors.CategoryDatabase).
		Context("driver", s.driver).
		Timing(op, time.Since(start)).
		Build()
}

// Save inserts r
func (s *Store) Save(ctx context.Context, r *Record) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Create(r).Error
	return s.observe("save", start, err)
}

// Recent returns the newest records first, optionally for one crop.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	start := time.Now()

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	tx := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit)
	if q.Crop != "" {
		tx = tx.Where("crop = ?", q.Crop)
	}

	records := []Record{}
	err := tx.Find(&records).Error
	if err := s.observe("recent", start, err); err != nil {
		return nil, err
	}
	return records, nil
}

// Stats counts records in total, per crop and per disease.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{ByCrop: []Count{}, ByDisease: []Count{}}
	err := s.db.WithContext(ctx).Model(&Record{}).Count(&stats.Total).Error
	if err == nil {
		err = s.db.WithContext(ctx).Model(&Record{}).
			Select("crop AS name, COUNT(*) AS count").
			Group("crop").Order("count DESC").Order("name").
			Scan(&stats.ByCrop).Error
	}
	if err == nil {
		err = s.db.WithContext(ctx).Model(&Record{}).
			Select("disease AS name, COUNT(*) AS count").
			Group("disease").Order("count DESC").Order("name").
			Scan(&stats.ByDisease).Error
	}

	if err := s.observe("stats", start, err); err != nil {
		return nil, err
	}
	return stats, nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic DB object: %w", err)
	}
	return sqlDB.Close()
}
