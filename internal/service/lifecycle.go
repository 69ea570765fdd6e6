package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindroom-ai/instance-orchestrator/internal/constants"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// Start starts all four applications of a stopped (or failed) instance
// and marks it running.
func (o *Orchestrator) Start(ctx context.Context, id uuid.UUID) error {
	return o.applyLifecycle(ctx, id, lifecycleOp{
		name:    "start",
		allowed: []string{model.StatusStopped, model.StatusFailed},
		final:   model.StatusRunning,
		verb: func(client RemoteClient, ctx context.Context, app string) error {
			return client.StartApp(ctx, app)
		},
	})
}

// Stop stops all four applications and marks the instance stopped.
func (o *Orchestrator) Stop(ctx context.Context, id uuid.UUID) error {
	return o.applyLifecycle(ctx, id, lifecycleOp{
		name:    "stop",
		allowed: []string{model.StatusRunning, model.StatusRestarting},
		final:   model.StatusStopped,
		verb: func(client RemoteClient, ctx context.Context, app string) error {
			return client.StopApp(ctx, app)
		},
	})
}

// Restart restarts all four applications of a running instance. The
// transitional restarting status is persisted before the remote verbs run.
func (o *Orchestrator) Restart(ctx context.Context, id uuid.UUID) error {
	return o.applyLifecycle(ctx, id, lifecycleOp{
		name:         "restart",
		allowed:      []string{model.StatusRunning},
		transitional: model.StatusRestarting,
		final:        model.StatusRunning,
		verb: func(client RemoteClient, ctx context.Context, app string) error {
			return client.RestartApp(ctx, app)
		},
	})
}

type lifecycleOp struct {
	name         string
	allowed      []string
	transitional string
	final        string
	verb         func(client RemoteClient, ctx context.Context, app string) error
}

// applyLifecycle runs one lifecycle verb against all four applications of
// an instance. Targets are independent: one application's failure does
// not prevent attempting the others, but any failure surfaces to the
// caller and the final status is not persisted.
func (o *Orchestrator) applyLifecycle(ctx context.Context, id uuid.UUID, op lifecycleOp) error {
	logger := zap.S().Named("orchestrator:" + op.name)

	instance, err := o.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	unlock, err := o.tryLock(instance.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if !statusIn(instance.Status, op.allowed) {
		return &ValidationError{Reason: fmt.Sprintf("cannot %s instance in status %s", op.name, instance.Status)}
	}

	if op.transitional != "" {
		if err := o.persistStatus(ctx, instance, op.transitional, nil); err != nil {
			return err
		}
	}

	client, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var errs []error
	for _, app := range naming.AppsFor(instance.AppName).All() {
		if err := op.verb(client, ctx, app); err != nil {
			logger.Errorw("Lifecycle verb failed for application", "remote-app", app, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", op.name, app, err))
		}
	}
	if len(errs) > 0 {
		// Partial application is possible here; the error surfaces it
		// rather than hiding it behind a persisted status.
		return errors.Join(errs...)
	}

	if err := o.persistStatus(ctx, instance, op.final, nil); err != nil {
		return err
	}

	logger.Infow("Lifecycle operation complete", "instance-id", instance.ID, "status", op.final)
	return nil
}

// Scale applies new resource limits to the three user-facing applications
// and persists the merged limits on the instance config.
func (o *Orchestrator) Scale(ctx context.Context, id uuid.UUID, memory, cpu string) error {
	logger := zap.S().Named("orchestrator:scale")

	if memory == "" && cpu == "" {
		return &ValidationError{Reason: "at least one of memory or cpu must be provided"}
	}

	instance, err := o.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	unlock, err := o.tryLock(instance.ID)
	if err != nil {
		return err
	}
	defer unlock()

	client, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var errs []error
	for _, app := range naming.AppsFor(instance.AppName).UserFacing() {
		if err := client.SetResourceLimits(ctx, app, memory, cpu); err != nil {
			logger.Errorw("Failed to apply resource limits", "remote-app", app, "error", err)
			errs = append(errs, fmt.Errorf("scale %s: %w", app, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	config := mergeResources(instance.Config, memory, cpu)
	if err := o.store.Instance().UpdateStatus(ctx, instance.ID, instance.Status, &store.StatusPatch{Config: config}); err != nil {
		return err
	}

	logger.Infow("Scaled instance", "instance-id", instance.ID, "memory", memory, "cpu", cpu)
	return nil
}

// mergeResources merges new limit values over config["resources"],
// keeping whichever dimension was not provided.
func mergeResources(config map[string]any, memory, cpu string) map[string]any {
	merged := make(map[string]any, len(config)+1)
	for k, v := range config {
		merged[k] = v
	}

	resources := map[string]any{}
	if existing, ok := merged[constants.ConfigKeyResources].(map[string]any); ok {
		for k, v := range existing {
			resources[k] = v
		}
	}
	if memory != "" {
		resources["memory"] = memory
	}
	if cpu != "" {
		resources["cpu"] = cpu
	}
	merged[constants.ConfigKeyResources] = resources
	return merged
}

func statusIn(status string, allowed []string) bool {
	for _, s := range allowed {
		if status == s {
			return true
		}
	}
	return false
}
