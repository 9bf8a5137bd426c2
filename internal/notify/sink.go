package notify

import (
	"context"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

type Kind string

const (
	KindImmediate Kind = "immediate"
	KindDaily     Kind = "daily"
	KindTest      Kind = "test"
	KindSystem    Kind = "system"
)

// Message is what the scheduler hands to every sink. Each sink renders it in
// its own format.
type Message struct {
	Kind      Kind                    `json:"kind"`
	Subject   string                  `json:"subject"`
	Text      string                  `json:"text,omitempty"`
	Events    []models.DetectionEvent `json:"events,omitempty"`
	ImagePath string                  `json:"image_path,omitempty"`
}

// Sink is one notification channel. Send is called on its own goroutine and
// is attempted once; Test sends a probe and reports a diagnostic message.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Test(ctx context.Context) (bool, string)
}
