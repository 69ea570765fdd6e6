package v1alpha1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/mindroom-ai/instance-orchestrator/api/v1alpha1"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/service"
)

// InstanceHandler exposes the orchestrator workflows over HTTP. It never
// talks to the remote host itself.
type InstanceHandler struct {
	orchestrator *service.Orchestrator
}

func NewInstanceHandler(orchestrator *service.Orchestrator) *InstanceHandler {
	return &InstanceHandler{
		orchestrator: orchestrator,
	}
}

// Routes returns the router mounted under the API base path.
func (h *InstanceHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Post("/instances/provision", h.Provision)
	router.Route("/instances/{instanceId}", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/restart", h.Restart)
		r.Post("/scale", h.Scale)
		r.Post("/deprovision", h.Deprovision)
		r.Get("/status", h.Status)
	})
	return router
}

// Provision (POST /instances/provision)
func (h *InstanceHandler) Provision(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("handler:provision")

	var req api.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeActionError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	instance, task, err := h.orchestrator.StartProvision(r.Context(), service.ProvisionRequest{
		SubscriptionID: req.SubscriptionID,
		AccountID:      req.AccountID,
		Tier:           naming.Tier(req.Tier),
		Limits:         req.Limits,
	})
	if err != nil {
		logger.Errorw("Failed to start provisioning", "subscription-id", req.SubscriptionID, "error", err)
		writeServiceError(w, err)
		return
	}

	logger.Infow("Provisioning started", "instance-id", instance.ID, "app", instance.AppName)
	superviseTask(logger, "provisioning", instance.ID, task)

	writeJSON(w, http.StatusOK, api.ProvisionResponse{
		Success:    true,
		InstanceID: instance.ID,
		AppName:    instance.AppName,
		Subdomain:  instance.Subdomain,
		Message:    "Provisioning started",
	})
}

// Start (POST /instances/{instanceId}/start)
func (h *InstanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "handler:start", "Instance started", h.orchestrator.Start)
}

// Stop (POST /instances/{instanceId}/stop)
func (h *InstanceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "handler:stop", "Instance stopped", h.orchestrator.Stop)
}

// Restart (POST /instances/{instanceId}/restart)
func (h *InstanceHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "handler:restart", "Instance restarted", h.orchestrator.Restart)
}

// Scale (POST /instances/{instanceId}/scale)
func (h *InstanceHandler) Scale(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("handler:scale")

	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	var req api.ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeActionError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orchestrator.Scale(r.Context(), id, req.Memory, req.CPU); err != nil {
		logger.Errorw("Failed to scale instance", "instance-id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	logger.Infow("Instance scaled", "instance-id", id, "memory", req.Memory, "cpu", req.CPU)
	writeJSON(w, http.StatusOK, api.ActionResponse{Success: true, Message: "Instance scaled"})
}

// Deprovision (POST /instances/{instanceId}/deprovision)
func (h *InstanceHandler) Deprovision(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("handler:deprovision")

	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	task, err := h.orchestrator.StartDeprovision(r.Context(), id)
	if err != nil {
		logger.Errorw("Failed to start deprovisioning", "instance-id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	logger.Infow("Deprovisioning started", "instance-id", id)
	superviseTask(logger, "deprovisioning", id, task)

	writeJSON(w, http.StatusOK, api.ActionResponse{Success: true, Message: "Deprovisioning started"})
}

// Status (GET /instances/{instanceId}/status)
func (h *InstanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("handler:status")

	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	instance, err := h.orchestrator.GetInstance(r.Context(), id)
	if err != nil {
		logger.Errorw("Failed to fetch instance", "instance-id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse(instance))
}

// lifecycle runs a synchronous verb and maps its outcome onto the uniform
// action response.
func (h *InstanceHandler) lifecycle(w http.ResponseWriter, r *http.Request, component, message string, op func(context.Context, uuid.UUID) error) {
	logger := zap.S().Named(component)

	id, ok := instanceID(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), id); err != nil {
		logger.Errorw("Lifecycle operation failed", "instance-id", id, "error", err)
		writeServiceError(w, err)
		return
	}

	logger.Infow(message, "instance-id", id)
	writeJSON(w, http.StatusOK, api.ActionResponse{Success: true, Message: message})
}

// instanceID parses the path parameter, answering 400 on garbage input.
func instanceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "instanceId"))
	if err != nil {
		writeActionError(w, http.StatusBadRequest, "invalid instance id")
		return uuid.Nil, false
	}
	return id, true
}

// superviseTask logs the terminal outcome of a background workflow. The
// workflow records its own state; this is operator-facing visibility only.
func superviseTask(logger *zap.SugaredLogger, operation string, id uuid.UUID, task *service.Task) {
	go func() {
		if err := task.Wait(context.Background()); err != nil {
			logger.Errorw("Background workflow failed", "operation", operation, "instance-id", id, "error", err)
			return
		}
		logger.Infow("Background workflow finished", "operation", operation, "instance-id", id)
	}()
}
