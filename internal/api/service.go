package api

import (
	"context"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/notify"
)

// LogStore is the persisted detection log. May be nil when no database is configured.
type LogStore interface {
	GetLogs(ctx context.Context, f models.LogFilter) ([]models.LogRecord, error)
	DeleteDetection(ctx context.Context, id int64) (bool, error)
}

// CameraStore is the camera registry. May be nil when no database is configured.
type CameraStore interface {
	AddCamera(ctx context.Context, c models.Camera) (int64, error)
	UpdateCamera(ctx context.Context, c models.Camera) (bool, error)
	DeleteCamera(ctx context.Context, id int64) (bool, error)
	GetCameras(ctx context.Context) ([]models.Camera, error)
}

type Notifier interface {
	Policy() *notify.Policy
	PendingCount() int
	ForceSendSummary() int
	ClearPending() int
	SendTestNotification(ctx context.Context, testEmail, testDiscord bool) notify.TestResults
}

// Monitor reports the detection loop state.
type Monitor interface {
	SourceID() string
	Source() string
	State() models.StreamState
}

type Handlers struct {
	logs     LogStore
	notifier Notifier
	monitor  Monitor
	hub      *Hub
	cameras  CameraStore
}

func NewHandlers(logs LogStore, notifier Notifier, monitor Monitor, hub *Hub) *Handlers {
	return &Handlers{logs: logs, notifier: notifier, monitor: monitor, hub: hub}
}

func (h *Handlers) SetCameras(c CameraStore) {
	h.cameras = c
}
