package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-messaging-bridge/internal/host"
)

// ActivityHost is the part of the host lifecycle driven over HTTP.
type ActivityHost interface {
	AttachActivity(id string) *host.Activity
	DetachActivity()
}

type HostAPI struct {
	Host   ActivityHost
	Logger *slog.Logger
}

func NewHostAPI(h ActivityHost, logger *slog.Logger) *HostAPI {
	return &HostAPI{
		Host:   h,
		Logger: logger.With("component", "HostAPI"),
	}
}

type AttachActivityRequest struct {
	ActivityID string `json:"activityId"`
}

// AttachActivity makes the named activity the foreground surface.
func (api *HostAPI) AttachActivity(w http.ResponseWriter, r *http.Request) {
	var req AttachActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ActivityID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing activityId")
		return
	}

	api.Host.AttachActivity(req.ActivityID)
	api.Logger.Info("Activity attached", "activity_id", req.ActivityID)
	w.WriteHeader(http.StatusNoContent)
}

// DetachActivity is idempotent.
func (api *HostAPI) DetachActivity(w http.ResponseWriter, r *http.Request) {
	api.Host.DetachActivity()
	api.Logger.Info("Activity detached")
	w.WriteHeader(http.StatusNoContent)
}
