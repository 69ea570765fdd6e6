package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// StatusPatch carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type StatusPatch struct {
	FrontendURL        *string
	BackendURL         *string
	MessagingServerURL *string
	Config             map[string]any
	ErrorMessage       *string
}

type Instance interface {
	List(ctx context.Context) (model.InstanceList, error)
	ListByStatus(ctx context.Context, status string) (model.InstanceList, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Instance, error)
	GetBySubscription(ctx context.Context, subscriptionID string) (*model.Instance, error)
	Create(ctx context.Context, instance model.Instance) (*model.Instance, error)
	Update(ctx context.Context, instance model.Instance) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, patch *StatusPatch) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type InstanceStore struct {
	db *gorm.DB
}

var _ Instance = (*InstanceStore)(nil)

func NewInstance(db *gorm.DB) Instance {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) List(ctx context.Context) (model.InstanceList, error) {
	var instances model.InstanceList
	result := s.db.WithContext(ctx).Find(&instances)
	if result.Error != nil {
		return nil, result.Error
	}
	return instances, nil
}

func (s *InstanceStore) ListByStatus(ctx context.Context, status string) (model.InstanceList, error) {
	var instances model.InstanceList
	result := s.db.WithContext(ctx).Where("status = ?", status).Find(&instances)
	if result.Error != nil {
		return nil, result.Error
	}
	return instances, nil
}

func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*model.Instance, error) {
	var instance model.Instance
	result := s.db.WithContext(ctx).First(&instance, id)
	if result.Error != nil {
		return nil, result.Error
	}
	return &instance, nil
}

func (s *InstanceStore) GetBySubscription(ctx context.Context, subscriptionID string) (*model.Instance, error) {
	var instance model.Instance
	result := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&instance)
	if result.Error != nil {
		return nil, result.Error
	}
	return &instance, nil
}

func (s *InstanceStore) Create(ctx context.Context, instance model.Instance) (*model.Instance, error) {
	result := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&instance)
	if result.Error != nil {
		return nil, result.Error
	}
	return &instance, nil
}

func (s *InstanceStore) Update(ctx context.Context, instance model.Instance) error {
	result := s.db.WithContext(ctx).Model(&model.Instance{}).Where("id = ?", instance.ID).Updates(instance)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// UpdateStatus writes a status transition as a single row-level update so
// concurrent workflows on different instances never clobber each other.
func (s *InstanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string, patch *StatusPatch) error {
	updates := map[string]any{"status": status}
	if patch != nil {
		if patch.FrontendURL != nil {
			updates["frontend_url"] = *patch.FrontendURL
		}
		if patch.BackendURL != nil {
			updates["backend_url"] = *patch.BackendURL
		}
		if patch.MessagingServerURL != nil {
			updates["messaging_server_url"] = *patch.MessagingServerURL
		}
		if patch.Config != nil {
			// Map-based Updates bypass the model's json serializer, so
			// the config column is serialized here.
			data, err := json.Marshal(patch.Config)
			if err != nil {
				return fmt.Errorf("failed to serialize config patch: %w", err)
			}
			updates["config"] = string(data)
		}
		if patch.ErrorMessage != nil {
			updates["error_message"] = *patch.ErrorMessage
		}
	}

	result := s.db.WithContext(ctx).Model(&model.Instance{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *InstanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.Instance{}, id)
	if result.Error != nil {
		return result.Error
	}
	return nil
}
