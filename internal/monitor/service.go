package monitor

import (
	"context"
	"log"
	"time"

	"github.com/mindroom-ai/instance-orchestrator/internal/events"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/service"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// Service periodically compares running instances against the remote host
// and reports applications that have gone missing. It never mutates rows;
// repair is an operator decision.
type Service struct {
	store     store.Store
	dial      service.DialFunc
	publisher *events.Publisher
	interval  time.Duration
}

// MonitorConfig contains configuration for the drift monitor
type MonitorConfig struct {
	Interval time.Duration
}

// NewMonitorService creates a new instance drift monitor
func NewMonitorService(dataStore store.Store, dial service.DialFunc, publisher *events.Publisher, config MonitorConfig) *Service {
	return &Service{
		store:     dataStore,
		dial:      dial,
		publisher: publisher,
		interval:  config.Interval,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Printf("Starting instance drift monitor (interval %s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Stopping instance drift monitor")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep checks every running instance's four applications on one shared
// remote session.
func (s *Service) sweep(ctx context.Context) {
	instances, err := s.store.Instance().ListByStatus(ctx, model.StatusRunning)
	if err != nil {
		log.Printf("Drift sweep failed to list running instances: %v", err)
		return
	}
	if len(instances) == 0 {
		return
	}

	client, err := s.dial(ctx)
	if err != nil {
		log.Printf("Drift sweep failed to reach remote host: %v", err)
		return
	}
	defer client.Close()

	for _, instance := range instances {
		var missing []string
		for _, app := range naming.AppsFor(instance.AppName).All() {
			if !client.AppExists(ctx, app) {
				missing = append(missing, app)
			}
		}
		if len(missing) == 0 {
			continue
		}

		log.Printf("Drift detected for instance %s: missing %v", instance.ID, missing)
		s.publishDrift(instance, missing)
	}
}

// publishDrift reports one drifted instance on the event bus
func (s *Service) publishDrift(instance model.Instance, missing []string) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	driftEvent := events.DriftEvent{
		InstanceID:  instance.ID.String(),
		AppName:     instance.AppName,
		MissingApps: missing,
		Timestamp:   time.Now(),
	}
	if err := s.publisher.PublishDriftEvent(ctx, driftEvent); err != nil {
		log.Printf("Error publishing drift event for %s: %v", instance.ID, err)
	}
}
