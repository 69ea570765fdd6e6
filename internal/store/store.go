package store

import (
	"gorm.io/gorm"

	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

type Store interface {
	Close() error
	Instance() Instance
}

type DataStore struct {
	db       *gorm.DB
	instance Instance
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:       db,
		instance: NewInstance(db),
	}
}

// Migrate creates or updates the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Instance{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *DataStore) Instance() Instance {
	return s.instance
}
