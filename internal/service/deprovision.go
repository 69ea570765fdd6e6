package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// StartDeprovision persists the deprovisioning status and launches the
// destroy pass on a background task. The instance row is deleted once the
// pass completes; individual destroy failures are logged but do not block
// the run (best-effort teardown, not strict confirmation).
func (o *Orchestrator) StartDeprovision(ctx context.Context, id uuid.UUID) (*Task, error) {
	logger := zap.S().Named("orchestrator:deprovision")

	instance, err := o.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := o.tryLock(instance.ID)
	if err != nil {
		return nil, err
	}

	if err := o.persistStatus(ctx, instance, model.StatusDeprovisioning, nil); err != nil {
		unlock()
		return nil, err
	}

	logger.Infow("Deprovisioning started", "instance-id", instance.ID, "app", instance.AppName)

	task := newTask()
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), o.provisionTimeout)
		defer cancel()

		err := o.deprovision(runCtx, instance)
		unlock()
		task.complete(err)
	}()

	return task, nil
}

// deprovision destroys the four named applications independently and
// deletes the instance row afterwards. An application that never existed
// (a partially-created, failed instance) is a valid non-error outcome.
func (o *Orchestrator) deprovision(ctx context.Context, instance *model.Instance) error {
	logger := zap.S().Named("orchestrator:deprovision").With("instance-id", instance.ID, "app", instance.AppName)

	client, err := o.dial(ctx)
	if err != nil {
		logger.Errorw("Failed to acquire remote session", "error", err)
		o.recordDeprovisionError(instance, err)
		return err
	}
	defer client.Close()

	apps := naming.AppsFor(instance.AppName)
	for _, app := range apps.All() {
		if !client.AppExists(ctx, app) {
			continue
		}
		if err := client.DestroyApp(ctx, app); err != nil {
			logger.Errorw("Failed to destroy application, continuing", "remote-app", app, "error", err)
			continue
		}
		logger.Infow("Destroyed application", "remote-app", app)
	}

	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := o.store.Instance().Delete(deleteCtx, instance.ID); err != nil {
		logger.Errorw("Failed to delete instance row", "error", err)
		return err
	}

	o.publishStatus(instance, model.StatusDeprovisioned, "")
	logger.Infow("Deprovisioning complete")
	return nil
}

// recordDeprovisionError keeps the row in deprovisioning so the destroy
// pass can be re-issued; only the error message is updated. The write uses
// its own context so an expired workflow deadline cannot prevent it.
func (o *Orchestrator) recordDeprovisionError(instance *model.Instance, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message := cause.Error()
	err := o.store.Instance().UpdateStatus(ctx, instance.ID, model.StatusDeprovisioning, &store.StatusPatch{
		ErrorMessage: &message,
	})
	if err != nil {
		zap.S().Named("orchestrator:deprovision").Errorw("Failed to record deprovisioning error", "instance-id", instance.ID, "error", err)
	}
}
