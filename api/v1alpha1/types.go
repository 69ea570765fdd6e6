// Package v1alpha1 holds the wire types and the OpenAPI description of the
// orchestrator control API.
package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

// ProvisionRequest asks for a new customer stack.
type ProvisionRequest struct {
	SubscriptionID string         `json:"subscription_id"`
	AccountID      string         `json:"account_id"`
	Tier           string         `json:"tier,omitempty"`
	Limits         map[string]any `json:"limits,omitempty"`
}

// ProvisionResponse acknowledges an accepted provisioning request. The
// workflow itself continues in the background.
type ProvisionResponse struct {
	Success    bool      `json:"success"`
	InstanceID uuid.UUID `json:"instance_id"`
	AppName    string    `json:"app_name"`
	Subdomain  string    `json:"subdomain"`
	Message    string    `json:"message"`
}

// ScaleRequest carries new resource limits. At least one field must be set.
type ScaleRequest struct {
	Memory string `json:"memory,omitempty"`
	CPU    string `json:"cpu,omitempty"`
}

// ActionResponse is the uniform acknowledgement for lifecycle operations.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is the externally visible view of an instance.
type StatusResponse struct {
	ID                 uuid.UUID `json:"id"`
	Status             string    `json:"status"`
	Subdomain          string    `json:"subdomain"`
	FrontendURL        string    `json:"frontend_url,omitempty"`
	BackendURL         string    `json:"backend_url,omitempty"`
	MessagingServerURL string    `json:"messaging_server_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
