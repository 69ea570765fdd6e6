package model

import (
	"time"

	"github.com/google/uuid"
)

// Instance lifecycle states. Transitions are monotonic within one
// provisioning or deprovisioning run; only user-initiated start, stop and
// restart move between running, stopped and restarting.
const (
	StatusProvisioning   = "provisioning"
	StatusRunning        = "running"
	StatusStopped        = "stopped"
	StatusRestarting     = "restarting"
	StatusDeprovisioning = "deprovisioning"
	StatusFailed         = "failed"

	// StatusDeprovisioned only appears in events; the row itself is
	// deleted once the destroy pass completes.
	StatusDeprovisioned = "deprovisioned"
)

// Instance is the persisted record of one customer's deployed stack. The
// app name is immutable once assigned and joins the row to all remote
// resources.
type Instance struct {
	ID                 uuid.UUID      `gorm:"primaryKey;"`
	SubscriptionID     string         `gorm:"uniqueIndex;not null;"`
	AccountID          string         `gorm:"not null;"`
	AppName            string         `gorm:"uniqueIndex;not null;"`
	Subdomain          string         `gorm:"not null;"`
	Status             string         `gorm:"not null;"`
	FrontendURL        string
	BackendURL         string
	MessagingServerURL string
	Config             map[string]any `gorm:"serializer:json"`
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type InstanceList []Instance
