package v1alpha1

import (
	"encoding/json"
	"errors"
	"net/http"

	api "github.com/mindroom-ai/instance-orchestrator/api/v1alpha1"
	"github.com/mindroom-ai/instance-orchestrator/internal/remote"
	"github.com/mindroom-ai/instance-orchestrator/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeActionError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ActionResponse{Success: false, Message: message})
}

// writeServiceError maps typed workflow errors onto HTTP statuses. Remote
// failures are reported generically so command lines and host details never
// reach API clients.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsNotFound(err):
		writeActionError(w, http.StatusNotFound, err.Error())
	case service.IsValidation(err):
		writeActionError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrOperationInProgress):
		writeActionError(w, http.StatusConflict, "another operation is in progress")
	case remote.IsCommandError(err):
		writeActionError(w, http.StatusInternalServerError, "remote operation failed")
	default:
		writeActionError(w, http.StatusInternalServerError, "operation failed")
	}
}
