package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mindroom-ai/instance-orchestrator/internal/events"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

const (
	defaultProvisionTimeout = 30 * time.Minute

	// cleanupTimeout bounds the best-effort destroy pass that runs after
	// a failed provisioning, detached from the failed workflow's context
	cleanupTimeout = 10 * time.Minute
)

// Orchestrator is the only component allowed to drive multi-step remote
// state changes for an instance. Each workflow invocation dials its own
// remote client, so concurrent workflows for different instances never
// share a session.
type Orchestrator struct {
	store store.Store
	dial  DialFunc

	tiers         naming.TierTable
	baseDomain    string
	imageRegistry string
	imageTag      string

	publisher        *events.Publisher
	notifier         *Notifier
	provisionTimeout time.Duration

	// one mutex per instance id; TryLock rejects overlapping workflows
	locks sync.Map
}

// Options carries the optional collaborators and tuning knobs of the
// orchestrator. Zero values fall back to sane defaults.
type Options struct {
	Tiers            naming.TierTable
	BaseDomain       string
	ImageRegistry    string
	ImageTag         string
	Publisher        *events.Publisher
	Notifier         *Notifier
	ProvisionTimeout time.Duration
}

func NewOrchestrator(dataStore store.Store, dial DialFunc, opts Options) *Orchestrator {
	if opts.Tiers == nil {
		opts.Tiers = naming.DefaultTiers()
	}
	if opts.ProvisionTimeout == 0 {
		opts.ProvisionTimeout = defaultProvisionTimeout
	}
	if opts.ImageTag == "" {
		opts.ImageTag = "latest"
	}

	return &Orchestrator{
		store:            dataStore,
		dial:             dial,
		tiers:            opts.Tiers,
		baseDomain:       opts.BaseDomain,
		imageRegistry:    opts.ImageRegistry,
		imageTag:         opts.ImageTag,
		publisher:        opts.Publisher,
		notifier:         opts.Notifier,
		provisionTimeout: opts.ProvisionTimeout,
	}
}

// GetInstance loads one instance record.
func (o *Orchestrator) GetInstance(ctx context.Context, id uuid.UUID) (*model.Instance, error) {
	instance, err := o.store.Instance().Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: id.String()}
		}
		return nil, err
	}
	return instance, nil
}

// tryLock acquires the per-instance workflow lock. The returned release
// function must be called on every exit path of the workflow.
func (o *Orchestrator) tryLock(id uuid.UUID) (func(), error) {
	entry, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrOperationInProgress
	}
	return mu.Unlock, nil
}

// persistStatus writes a status transition and fans it out to the portal
// notifier and the events publisher. Fan-out is best-effort and never
// fails the transition.
func (o *Orchestrator) persistStatus(ctx context.Context, instance *model.Instance, status string, patch *store.StatusPatch) error {
	if err := o.store.Instance().UpdateStatus(ctx, instance.ID, status, patch); err != nil {
		return err
	}

	message := ""
	if patch != nil && patch.ErrorMessage != nil {
		message = *patch.ErrorMessage
	}
	o.publishStatus(instance, status, message)
	return nil
}

// publishStatus fans one transition out to the portal and the event bus.
func (o *Orchestrator) publishStatus(instance *model.Instance, status, message string) {
	o.notifier.NotifyStatus(instance.ID.String(), status, message)

	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := events.InstanceEvent{
		InstanceID: instance.ID.String(),
		AppName:    instance.AppName,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
	}
	if err := o.publisher.PublishInstanceEvent(ctx, event); err != nil {
		zap.S().Named("orchestrator:events").Errorw("Failed to publish instance event", "instance-id", instance.ID, "error", err)
	}
}
