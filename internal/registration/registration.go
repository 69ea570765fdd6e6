package registration

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Config identifies this orchestrator to the customer portal.
type Config struct {
	PortalURL     string
	Endpoint      string
	ID            string
	Name          string
	CallbackURL   string
	SchemaVersion string
	HTTPTimeout   time.Duration
}

// Orchestrator is the registration record exchanged with the portal.
type Orchestrator struct {
	ID            *uuid.UUID `json:"id,omitempty"`
	Name          string     `json:"name"`
	Endpoint      string     `json:"endpoint"`
	ServiceType   string     `json:"service_type"`
	SchemaVersion string     `json:"schema_version"`
}

type problem struct {
	Title string `json:"title"`
	Type  string `json:"type,omitempty"`
}

// Registrar announces this orchestrator's callback endpoint to the portal.
type Registrar struct {
	client *resty.Client
	cfg    Config
}

func NewRegistrar(cfg Config) *Registrar {
	client := resty.New().
		SetBaseURL(cfg.PortalURL).
		SetTimeout(cfg.HTTPTimeout)

	return &Registrar{
		client: client,
		cfg:    cfg,
	}
}

// Register registers this orchestrator with the portal. Registration is
// idempotent: if an orchestrator with the same ID exists, it is updated.
func (r *Registrar) Register(ctx context.Context) error {
	orchestratorUUID, err := uuid.Parse(r.cfg.ID)
	if err != nil {
		return fmt.Errorf("invalid orchestrator ID %q: %w", r.cfg.ID, err)
	}

	var registered Orchestrator
	var failure problem

	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("id", orchestratorUUID.String()).
		SetBody(Orchestrator{
			Name:          r.cfg.Name,
			Endpoint:      r.cfg.CallbackURL,
			ServiceType:   "mindroom-instance",
			SchemaVersion: r.cfg.SchemaVersion,
		}).
		SetResult(&registered).
		SetError(&failure).
		Post(r.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to register orchestrator: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated:
		log.Printf("Registered new orchestrator: %s (ID: %s)", r.cfg.Name, orchestratorUUID)
	case http.StatusOK:
		log.Printf("Updated existing orchestrator: %s (ID: %s)", r.cfg.Name, orchestratorUUID)
	case http.StatusConflict:
		return fmt.Errorf("conflict registering orchestrator: %s", failure.Title)
	case http.StatusBadRequest:
		return fmt.Errorf("validation error: %s", failure.Title)
	default:
		return fmt.Errorf("unexpected response status: %d", resp.StatusCode())
	}

	return nil
}
