package api

import (
	"encoding/json"
	"net/http"

	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

type statusResponse struct {
	SourceID string             `json:"barn_id"`
	Source   string             `json:"source"`
	State    models.StreamState `json:"state"`
	Pending  int                `json:"pending"`
	Policy   string             `json:"policy"`
	Clients  int                `json:"clients"`
}

func (h *Handlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		SourceID: h.monitor.SourceID(),
		Source:   capture.MaskURL(h.monitor.Source()),
		State:    h.monitor.State(),
		Pending:  h.notifier.PendingCount(),
		Policy:   h.notifier.Policy().String(),
		Clients:  h.hub.Clients(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
