package v1alpha1

import (
	api "github.com/mindroom-ai/instance-orchestrator/api/v1alpha1"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

// statusResponse converts a stored instance into its external view. The
// error message column stays internal; failed instances surface through the
// status value only.
func statusResponse(instance *model.Instance) api.StatusResponse {
	return api.StatusResponse{
		ID:                 instance.ID,
		Status:             instance.Status,
		Subdomain:          instance.Subdomain,
		FrontendURL:        instance.FrontendURL,
		BackendURL:         instance.BackendURL,
		MessagingServerURL: instance.MessagingServerURL,
		CreatedAt:          instance.CreatedAt,
		UpdatedAt:          instance.UpdatedAt,
	}
}
