package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

type cameraRequest struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

func (h *Handlers) GetCamerasHandler(w http.ResponseWriter, r *http.Request) {
	if h.cameras == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	cameras, err := h.cameras.GetCameras(r.Context())
	if err != nil {
		log.Error().Msgf("API: get cameras: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if cameras == nil {
		cameras = []models.Camera{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cameras)
}

// AddCameraHandler registers a camera. Body: {"name", "source", "description"}.
func (h *Handlers) AddCameraHandler(w http.ResponseWriter, r *http.Request) {
	if h.cameras == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	cam, ok := decodeCamera(w, r)
	if !ok {
		return
	}

	id, err := h.cameras.AddCamera(r.Context(), cam)
	if err != nil {
		log.Error().Msgf("API: add camera %s: %v", cam.Name, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	cam.ID = id
	log.Info().Msgf("API: camera #%d %s registered for %s", id, cam.Name, capture.MaskURL(cam.Source))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cam)
}

func (h *Handlers) UpdateCameraHandler(w http.ResponseWriter, r *http.Request) {
	if h.cameras == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid camera id", http.StatusBadRequest)
		return
	}
	cam, ok := decodeCamera(w, r)
	if !ok {
		return
	}
	cam.ID = id

	updated, err := h.cameras.UpdateCamera(r.Context(), cam)
	if err != nil {
		log.Error().Msgf("API: update camera %d: %v", id, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "Camera not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cam)
}

func (h *Handlers) DeleteCameraHandler(w http.ResponseWriter, r *http.Request) {
	if h.cameras == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid camera id", http.StatusBadRequest)
		return
	}

	deleted, err := h.cameras.DeleteCamera(r.Context(), id)
	if err != nil {
		log.Error().Msgf("API: delete camera %d: %v", id, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Camera not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeCamera writes a 400 and reports false when the body is unusable.
func decodeCamera(w http.ResponseWriter, r *http.Request) (models.Camera, bool) {
	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return models.Camera{}, false
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Source = strings.TrimSpace(req.Source)
	if req.Name == "" || req.Source == "" {
		http.Error(w, "name and source are required", http.StatusBadRequest)
		return models.Camera{}, false
	}
	return models.Camera{Name: req.Name, Source: req.Source, Description: req.Description}, true
}
