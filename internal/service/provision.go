package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mindroom-ai/instance-orchestrator/internal/constants"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// ProvisionRequest is the validated input of one provisioning run.
type ProvisionRequest struct {
	SubscriptionID string
	AccountID      string
	Tier           naming.Tier
	Limits         map[string]any
}

// Provisioning phase breadcrumbs persisted on the instance config map.
const (
	phaseApps     = "applications"
	phaseDatabase = "database"
	phaseCache    = "cache"
	phaseConfig   = "configuration"
	phaseDomains  = "domains"
	phaseDeploy   = "deployment"
	phaseTLS      = "tls"
	phaseLimits   = "limits"
	phaseComplete = "complete"
)

// StartProvision accepts a provisioning request: it persists the instance
// row with status provisioning and launches the remote workflow on a
// background task. The caller gets the row and the task handle back
// immediately; the workflow outcome is observable via the task and the
// persisted status.
//
// Re-issuing provision for a subscription whose instance previously
// failed retries in place: the row and its immutable app name are kept,
// the error message is cleared.
func (o *Orchestrator) StartProvision(ctx context.Context, req ProvisionRequest) (*model.Instance, *Task, error) {
	logger := zap.S().Named("orchestrator:provision")

	if req.SubscriptionID == "" {
		return nil, nil, &ValidationError{Reason: "subscription_id is required"}
	}
	if req.AccountID == "" {
		return nil, nil, &ValidationError{Reason: "account_id is required"}
	}
	if req.Tier == "" {
		req.Tier = naming.TierStarter
	}

	instance, unlock, err := o.prepareInstance(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	logger.Infow("Provisioning started", "instance-id", instance.ID, "app", instance.AppName, "tier", req.Tier)
	o.publishStatus(instance, model.StatusProvisioning, "")

	task := newTask()
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), o.provisionTimeout)
		defer cancel()

		err := o.provision(runCtx, instance)
		unlock()
		task.complete(err)
	}()

	return instance, task, nil
}

// prepareInstance inserts the instance row, or reuses the failed row of a
// retried subscription, and acquires the per-instance workflow lock. The
// lock is taken before the retry row is touched, so a rejected overlapping
// request leaves the failed row untouched. No remote side effect happens
// here: if this step fails the whole request fails synchronously.
func (o *Orchestrator) prepareInstance(ctx context.Context, req ProvisionRequest) (*model.Instance, func(), error) {
	now := time.Now()
	config := map[string]any{
		constants.ConfigKeyTier:          string(req.Tier),
		constants.ConfigKeyLimits:        req.Limits,
		constants.ConfigKeyProvisionedAt: now.Format(time.RFC3339),
	}

	existing, err := o.store.Instance().GetBySubscription(ctx, req.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}
	if existing != nil {
		if existing.Status != model.StatusFailed {
			return nil, nil, &ValidationError{Reason: fmt.Sprintf("subscription %s already has an instance in status %s", req.SubscriptionID, existing.Status)}
		}

		unlock, err := o.tryLock(existing.ID)
		if err != nil {
			return nil, nil, err
		}

		// Retry keeps the immutable app name and clears the error.
		empty := ""
		if err := o.store.Instance().UpdateStatus(ctx, existing.ID, model.StatusProvisioning, &store.StatusPatch{
			Config:       config,
			ErrorMessage: &empty,
		}); err != nil {
			unlock()
			return nil, nil, err
		}
		existing.Status = model.StatusProvisioning
		existing.Config = config
		existing.ErrorMessage = ""
		return existing, unlock, nil
	}

	instance := model.Instance{
		ID:             uuid.New(),
		SubscriptionID: req.SubscriptionID,
		AccountID:      req.AccountID,
		AppName:        naming.AppName(req.AccountID, now),
		Subdomain:      naming.Subdomain(string(req.Tier), now),
		Status:         model.StatusProvisioning,
		Config:         config,
	}
	created, err := o.store.Instance().Create(ctx, instance)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := o.tryLock(created.ID)
	if err != nil {
		return nil, nil, err
	}
	return created, unlock, nil
}

// provision drives the full remote sequence for one instance. Any step
// failure marks the instance failed and triggers best-effort cleanup.
func (o *Orchestrator) provision(ctx context.Context, instance *model.Instance) error {
	logger := zap.S().Named("orchestrator:provision").With("instance-id", instance.ID, "app", instance.AppName)

	client, err := o.dial(ctx)
	if err != nil {
		logger.Errorw("Failed to acquire remote session", "error", err)
		o.markFailed(instance, err)
		return err
	}
	defer client.Close()

	apps := naming.AppsFor(instance.AppName)
	if err := o.provisionStack(ctx, client, instance, apps); err != nil {
		logger.Errorw("Provisioning failed", "error", err)
		o.markFailed(instance, err)
		o.cleanup(client, apps)
		return err
	}

	endpoints := naming.EndpointsFor(instance.Subdomain, o.baseDomain)
	patch := &store.StatusPatch{
		FrontendURL:        &endpoints.Frontend,
		BackendURL:         &endpoints.Backend,
		MessagingServerURL: &endpoints.Messaging,
		Config:             withPhase(instance.Config, phaseComplete),
	}
	if err := o.persistStatus(ctx, instance, model.StatusRunning, patch); err != nil {
		logger.Errorw("Failed to persist running status", "error", err)
		return err
	}

	logger.Infow("Provisioning complete", "frontend", endpoints.Frontend)
	return nil
}

// provisionStack runs the ordered remote steps. Later steps depend on
// earlier ones, so there is no parallelism here.
func (o *Orchestrator) provisionStack(ctx context.Context, client RemoteClient, instance *model.Instance, apps naming.Apps) error {
	logger := zap.S().Named("orchestrator:provision").With("instance-id", instance.ID)

	// Applications
	for _, app := range apps.All() {
		if err := client.CreateApp(ctx, app); err != nil {
			return fmt.Errorf("failed to create application %s: %w", app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseApps)

	// Database, shared by backend and matrix
	dbName := naming.DatabaseName(instance.AppName)
	if err := client.CreateDatabase(ctx, dbName); err != nil {
		return fmt.Errorf("failed to create database %s: %w", dbName, err)
	}
	for _, app := range []string{apps.Backend, apps.Matrix} {
		if err := client.LinkDatabase(ctx, dbName, app); err != nil {
			return fmt.Errorf("failed to link database %s to %s: %w", dbName, app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseDatabase)

	// Cache, shared by backend and matrix
	cacheName := naming.CacheName(instance.AppName)
	if err := client.CreateCache(ctx, cacheName); err != nil {
		return fmt.Errorf("failed to create cache %s: %w", cacheName, err)
	}
	for _, app := range []string{apps.Backend, apps.Matrix} {
		if err := client.LinkCache(ctx, cacheName, app); err != nil {
			return fmt.Errorf("failed to link cache %s to %s: %w", cacheName, app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseCache)

	// Environment configuration, including cross-references
	endpoints := naming.EndpointsFor(instance.Subdomain, o.baseDomain)
	instanceID := instance.ID.String()
	tier := configString(instance.Config, constants.ConfigKeyTier)

	envByApp := map[string]map[string]string{
		apps.Backend: {
			constants.EnvInstanceID:   instanceID,
			constants.EnvTier:         tier,
			constants.EnvFrontendURL:  endpoints.Frontend,
			constants.EnvMessagingURL: endpoints.Messaging,
		},
		apps.Frontend: {
			constants.EnvInstanceID: instanceID,
			constants.EnvBackendURL: endpoints.Backend,
		},
		apps.Matrix: {
			constants.EnvInstanceID: instanceID,
			constants.EnvBackendURL: endpoints.Backend,
		},
	}
	for _, app := range apps.UserFacing() {
		if err := client.SetConfig(ctx, app, envByApp[app]); err != nil {
			return fmt.Errorf("failed to push configuration to %s: %w", app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseConfig)

	// Public domains
	domains := naming.DomainsFor(apps, instance.Subdomain, o.baseDomain)
	for _, app := range apps.UserFacing() {
		if err := client.AddDomain(ctx, app, domains[app]); err != nil {
			return fmt.Errorf("failed to add domain %s to %s: %w", domains[app], app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseDomains)

	// Container images
	imageByApp := map[string]string{
		apps.Backend:  o.image("backend"),
		apps.Frontend: o.image("frontend"),
		apps.Matrix:   o.image("matrix"),
	}
	for _, app := range apps.UserFacing() {
		if err := client.DeployImage(ctx, app, imageByApp[app]); err != nil {
			return fmt.Errorf("failed to deploy image to %s: %w", app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseDeploy)

	// TLS termination
	for _, app := range apps.UserFacing() {
		if err := client.EnableTLS(ctx, app); err != nil {
			return fmt.Errorf("failed to enable TLS for %s: %w", app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseTLS)

	// Tier resource limits
	limits := o.tiers.LimitsFor(naming.Tier(tier))
	for _, app := range apps.UserFacing() {
		if err := client.SetResourceLimits(ctx, app, limits.Memory, limits.CPU); err != nil {
			return fmt.Errorf("failed to apply resource limits to %s: %w", app, err)
		}
	}
	o.recordPhase(ctx, instance, phaseLimits)

	logger.Debugw("Remote stack materialized", "apps", apps.All())
	return nil
}

// markFailed persists the failed status with the triggering error. The
// write uses its own context so an expired workflow deadline cannot
// prevent the failure from being recorded.
func (o *Orchestrator) markFailed(instance *model.Instance, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	message := cause.Error()
	patch := &store.StatusPatch{ErrorMessage: &message}
	if err := o.persistStatus(ctx, instance, model.StatusFailed, patch); err != nil {
		zap.S().Named("orchestrator:provision").Errorw("Failed to persist failed status", "instance-id", instance.ID, "error", err)
	}
}

// cleanup destroys whichever of the four applications exist. Each destroy
// is attempted independently; failures are logged and never raised, and
// the instance row is kept for operator inspection and retry.
func (o *Orchestrator) cleanup(client RemoteClient, apps naming.Apps) {
	logger := zap.S().Named("orchestrator:cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, app := range apps.All() {
		if !client.AppExists(ctx, app) {
			continue
		}
		if err := client.DestroyApp(ctx, app); err != nil {
			logger.Errorw("Failed to destroy application during cleanup", "app", app, "error", err)
			continue
		}
		logger.Infow("Destroyed application during cleanup", "app", app)
	}
}

// recordPhase persists the last completed phase breadcrumb; best-effort.
func (o *Orchestrator) recordPhase(ctx context.Context, instance *model.Instance, phase string) {
	instance.Config = withPhase(instance.Config, phase)
	err := o.store.Instance().UpdateStatus(ctx, instance.ID, model.StatusProvisioning, &store.StatusPatch{
		Config: instance.Config,
	})
	if err != nil {
		zap.S().Named("orchestrator:provision").Warnw("Failed to persist phase breadcrumb", "instance-id", instance.ID, "phase", phase, "error", err)
	}
}

func (o *Orchestrator) image(component string) string {
	return fmt.Sprintf("%s/%s:%s", o.imageRegistry, component, o.imageTag)
}

func withPhase(config map[string]any, phase string) map[string]any {
	merged := make(map[string]any, len(config)+1)
	for k, v := range config {
		merged[k] = v
	}
	merged[constants.ConfigKeyPhase] = phase
	return merged
}

func configString(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}
