package clientstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryModel is the GORM model backing GormBackend.
type EntryModel struct {
	Namespace string    `gorm:"primaryKey;size:64"`
	EntryKey  string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (EntryModel) TableName() string {
	return "client_entries"
}

// GormBackend implements Backend using GORM + Postgres.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend opens the DB and runs auto-migrations.
func NewGormBackend(dsn string) (*GormBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormBackend{db: db}, nil
}

// NewGormBackendFromDB wraps an already opened (and migrated) DB.
func NewGormBackendFromDB(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

// Close releases the underlying connection pool.
func (b *GormBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *GormBackend) Namespace(visitorID string) (Storage, error) {
	ns, err := normalizeNamespace(visitorID)
	if err != nil {
		return nil, err
	}
	return &gormStorage{db: b.db, ns: ns}, nil
}

type gormStorage struct {
	db *gorm.DB
	ns string
}

func (s *gormStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var model EntryModel
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.ns, key).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.Value, true, nil
}

func (s *gormStorage) Set(ctx context.Context, key, value string) error {
	model := EntryModel{
		Namespace: s.ns,
		EntryKey:  key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

func (s *gormStorage) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ? AND entry_key = ?", s.ns, key).
		Delete(&EntryModel{}).Error
}
