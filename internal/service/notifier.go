package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier pushes instance status transitions to the customer portal.
// Notifications are best-effort: failures are logged and never surface
// into the workflow that triggered them.
type Notifier struct {
	portalURL   string
	restyClient *resty.Client
	logger      *zap.SugaredLogger
}

type statusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewNotifier(portalURL string) *Notifier {
	return &Notifier{
		portalURL: portalURL,
		restyClient: resty.New().
			SetTimeout(5 * time.Second).
			SetHeader("Content-Type", "application/json"),
		logger: zap.S().Named("status_notifier"),
	}
}

// NotifyStatus sends one status update to the portal.
func (n *Notifier) NotifyStatus(instanceID, status, message string) {
	if n == nil || n.portalURL == "" {
		return
	}

	url := fmt.Sprintf("%s/api/v1alpha1/instances/%s/status", n.portalURL, instanceID)
	payload := statusPayload{Status: status, Message: message}

	resp, err := n.restyClient.R().
		SetBody(payload).
		Put(url)

	if err != nil {
		n.logger.Errorw("Error sending status update to portal", "instance-id", instanceID, "url", url, "error", err)
		return
	}

	if resp.StatusCode() != http.StatusOK {
		n.logger.Warnw("Portal status update returned non-success status", "instance-id", instanceID, "url", url, "status-code", resp.StatusCode())
		return
	}
	n.logger.Infow("Updated instance status in portal", "instance-id", instanceID, "status", status)
}
