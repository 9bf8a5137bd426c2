package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const dateLayout = "2006-01-02"

// GetLogsHandler lists detections newest first.
// Query: limit, barn_id (prefix), start_date and end_date as YYYY-MM-DD.
func (h *Handlers) GetLogsHandler(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	f, err := parseLogFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.logs.GetLogs(r.Context(), f)
	if err != nil {
		log.Error().Msgf("API: get logs: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.LogRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

func (h *Handlers) DeleteLogHandler(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid log id", http.StatusBadRequest)
		return
	}

	deleted, err := h.logs.DeleteDetection(r.Context(), id)
	if err != nil {
		log.Error().Msgf("API: delete log %d: %v", id, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Log not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLogFilter(r *http.Request) (models.LogFilter, error) {
	q := r.URL.Query()
	f := models.LogFilter{Source: q.Get("barn_id")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, errBadQuery("limit")
		}
		f.Limit = n
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, errBadQuery("start_date")
		}
		f.StartDate = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return f, errBadQuery("end_date")
		}
		f.EndDate = t
	}
	return f, nil
}

type errBadQuery string

func (e errBadQuery) Error() string { return "invalid " + string(e) + " parameter" }
