package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row is the SQL representation of a stored snapshot.
type Row struct {
	Name      string         `gorm:"column:name;primaryKey;size:255"`
	Snapshot  datatypes.JSON `gorm:"column:snapshot;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (Row) TableName() string { return "ingest_checkpoints" }

// GormStore keeps the snapshot as one row in Postgres or SQLite.
type GormStore struct {
	db  *gorm.DB
	key string
}

func NewGormStore(db *gorm.DB, key string) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("checkpoint: gorm db required")
	}
	if key == "" {
		key = "ddigraph:ingest:checkpoint"
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("checkpoint: migrate: %w", err)
	}
	return &GormStore{db: db, key: key}, nil
}

func (s *GormStore) Save(ctx context.Context, snap Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	row := Row{Name: s.key, Snapshot: datatypes.JSON(raw), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"snapshot", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("checkpoint: save row: %w", err)
	}
	return nil
}

func (s *GormStore) Load(ctx context.Context) (*Snapshot, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("name = ?", s.key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load row: %w", err)
	}
	return decode([]byte(row.Snapshot))
}

func (s *GormStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("name = ?", s.key).Delete(&Row{}).Error; err != nil {
		return fmt.Errorf("checkpoint: clear row: %w", err)
	}
	return nil
}
