package constants

// Instance config map keys persisted on the instance record
const (
	// ConfigKeyTier holds the subscription tier the instance was provisioned with
	ConfigKeyTier = "tier"

	// ConfigKeyLimits holds the subscription limits requested at provisioning time
	ConfigKeyLimits = "limits"

	// ConfigKeyResources holds the currently applied resource limits (memory/cpu)
	ConfigKeyResources = "resources"

	// ConfigKeyPhase is the last completed provisioning phase breadcrumb
	ConfigKeyPhase = "phase"

	// ConfigKeyProvisionedAt is the RFC3339 timestamp of the provisioning run
	ConfigKeyProvisionedAt = "provisioned_at"
)

// Environment variable names pushed into the remote applications
const (
	EnvInstanceID   = "MINDROOM_INSTANCE_ID"
	EnvBackendURL   = "MINDROOM_BACKEND_URL"
	EnvFrontendURL  = "MINDROOM_FRONTEND_URL"
	EnvMessagingURL = "MINDROOM_MESSAGING_URL"
	EnvTier         = "MINDROOM_TIER"
)
