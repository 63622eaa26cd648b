// internal/history/sqlite.go
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// recordRow is the table layout. Seq orders rows by insertion.
type recordRow struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement"`
	RecordID  string    `gorm:"column:id;size:64;uniqueIndex;not null"`
	ImageRef  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	Analysis  []byte    `gorm:"not null"`
}

func (recordRow) TableName() string { return "bite_records" }

// SQLiteStore keeps the history in a local SQLite file through gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps transactions from
	// failing with "database is locked".
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewSQLiteStore(db, logger)
}

// NewSQLiteStore wraps an open gorm handle and migrates the table.
func NewSQLiteStore(db *gorm.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.Named("history.sqlite"), now: time.Now}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error) {
	rec = stamp(rec, s.now())
	payload, err := codec.Marshal(rec.Analysis)
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to encode analysis: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := &recordRow{
			RecordID:  rec.ID,
			ImageRef:  rec.ImageRef,
			CreatedAt: rec.CreatedAt,
			Analysis:  payload,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		var keep []uint
		if err := tx.Model(&recordRow{}).Order("seq DESC").Limit(Capacity).Pluck("seq", &keep).Error; err != nil {
			return err
		}
		return tx.Where("seq NOT IN ?", keep).Delete(&recordRow{}).Error
	})
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to append bite record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&recordRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear bite history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]schemas.BiteRecord, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Order("seq DESC").Limit(Capacity).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query bite history: %w", err)
	}
	list := make([]schemas.BiteRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			s.logger.Warn("Discarding corrupt bite history", zap.Error(err))
			return []schemas.BiteRecord{}, nil
		}
		list = append(list, rec)
	}
	return list, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (schemas.BiteRecord, error) {
	var row recordRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schemas.BiteRecord{}, ErrNotFound
	}
	if err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("failed to load bite record: %w", err)
	}
	return row.record()
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r recordRow) record() (schemas.BiteRecord, error) {
	rec := schemas.BiteRecord{ID: r.RecordID, ImageRef: r.ImageRef, CreatedAt: r.CreatedAt.UTC()}
	if err := codec.Unmarshal(r.Analysis, &rec.Analysis); err != nil {
		return schemas.BiteRecord{}, fmt.Errorf("%w for %s: %v", errCorruptPayload, r.RecordID, err)
	}
	return rec, nil
}
