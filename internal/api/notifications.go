package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type countResponse struct {
	Count int `json:"count"`
}

type testRequest struct {
	Email   *bool `json:"email"`
	Discord *bool `json:"discord"`
}

// ForceSummaryHandler sends the daily summary now and empties the queue.
func (h *Handlers) ForceSummaryHandler(w http.ResponseWriter, r *http.Request) {
	n := h.notifier.ForceSendSummary()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countResponse{Count: n})
}

// TestNotificationHandler probes the channels named in the body. An empty body
// tests both email and Discord.
func (h *Handlers) TestNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	email := req.Email == nil || *req.Email
	discord := req.Discord == nil || *req.Discord

	res := h.notifier.SendTestNotification(r.Context(), email, discord)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (h *Handlers) ClearPendingHandler(w http.ResponseWriter, r *http.Request) {
	n := h.notifier.ClearPending()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countResponse{Count: n})
}
