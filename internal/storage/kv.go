package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "agentdeck/pkg/errors"
)

// KV is the simple key/value contract the cache layer consumes: reads
// report absence instead of erroring, writes are whole-value
// replacements applied in a single call.
type KV interface {
	Read(key string) (value string, ok bool, err error)
	Write(key, value string) error
	Remove(key string) error
}

// Record is a persisted key/value row.
type Record struct {
	Key        string    `gorm:"primaryKey;size:512"`
	Value      string    `gorm:"type:text"`
	UpdateTime time.Time `gorm:"autoUpdateTime"`
}

func (Record) TableName() string {
	return "kv_records"
}

// GormKV is the sqlite-backed KV implementation.
type GormKV struct {
	db *gorm.DB
}

func NewGormKV(db *gorm.DB) *GormKV {
	return &GormKV{db: db}
}

func (s *GormKV) Read(key string) (string, bool, error) {
	var record Record
	err := s.db.Where("key = ?", key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.CodeDBError, "read key failed", err)
	}
	return record.Value, true, nil
}

func (s *GormKV) Write(key, value string) error {
	record := Record{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "update_time"}),
	}).Create(&record).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDBError, "write key failed", err)
	}
	return nil
}

func (s *GormKV) Remove(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&Record{}).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeDBError, "remove key failed", err)
	}
	return nil
}
