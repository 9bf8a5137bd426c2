package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
)

// NewRouter registers the API routes. requestLimit requests per window are
// allowed per client IP; the websocket stream and /metrics are not limited.
func NewRouter(h *Handlers, metrics http.Handler, requestLimit int, window time.Duration) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/stream", h.hub.ServeWS).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	if requestLimit > 0 {
		limited := httprate.Limit(requestLimit, window, httprate.WithKeyFuncs(httprate.KeyByIP))
		api.Use(mux.MiddlewareFunc(limited))
	}
	api.HandleFunc("/status", h.GetStatusHandler).Methods("GET")
	api.HandleFunc("/logs", h.GetLogsHandler).Methods("GET")
	api.HandleFunc("/logs/{id}", h.DeleteLogHandler).Methods("DELETE")
	api.HandleFunc("/summary", h.ForceSummaryHandler).Methods("POST")
	api.HandleFunc("/test-notification", h.TestNotificationHandler).Methods("POST")
	api.HandleFunc("/pending", h.ClearPendingHandler).Methods("DELETE")
	api.HandleFunc("/cameras", h.GetCamerasHandler).Methods("GET")
	api.HandleFunc("/cameras", h.AddCameraHandler).Methods("POST")
	api.HandleFunc("/cameras/{id}", h.UpdateCameraHandler).Methods("PUT")
	api.HandleFunc("/cameras/{id}", h.DeleteCameraHandler).Methods("DELETE")
	return r
}
