package models

import "time"

type CommandAction string

const (
	CommandStart            CommandAction = "start"
	CommandStop             CommandAction = "stop"
	CommandForceSummary     CommandAction = "force_summary"
	CommandTestNotification CommandAction = "test_notification"
	CommandClearPending     CommandAction = "clear_pending"
)

// Frame is one decoded video frame, JPEG encoded.
type Frame struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
}

// Detection представляет структуру одного обнаруженного объекта
type Detection struct {
	ClassID int       `json:"class_id"`
	Class   string    `json:"class"`
	Score   float64   `json:"score"`
	Box     []float64 `json:"box"` // [x1, y1, x2, y2]
}

// DetectionEvent is a qualifying detection flowing from the loop to the notifier.
type DetectionEvent struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"barn_id"`
	Timestamp    time.Time `json:"timestamp"`
	Confidence   float64   `json:"confidence"`
	ClassLabel   string    `json:"class_name"`
	EvidencePath string    `json:"image_path,omitempty"`
}

// LogRecord is one persisted detection row.
type LogRecord struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ImagePath  string    `json:"image_path"`
	Confidence float64   `json:"confidence"`
	IsMounting bool      `json:"is_mounting"`
	Details    string    `json:"details"`
	SourceID   string    `json:"barn_id"`
	ClassName  string    `json:"class_name"`
}

// LogFilter selects detection logs. Zero values mean "no filter".
type LogFilter struct {
	Limit     int
	Source    string
	StartDate time.Time
	EndDate   time.Time
}

type StreamState string

const (
	StateConnecting StreamState = "connecting"
	StateActive     StreamState = "active"
	StateStalled    StreamState = "stalled"
	StateStreamLost StreamState = "stream_lost"
	StateStopped    StreamState = "stopped"
)

// StatusEvent reports a connection state transition of the detection loop.
type StatusEvent struct {
	SourceID  string      `json:"barn_id"`
	State     StreamState `json:"state"`
	Message   string      `json:"message"`
	TimeStamp time.Time   `json:"timestamp"`
}

// FrameResult is emitted for every processed frame.
type FrameResult struct {
	Frame      Frame   `json:"frame"`
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	ClassLabel string  `json:"class_name"`
}

// Command is a control message received from the command topic.
type Command struct {
	Action      CommandAction `json:"action"`
	SourceID    string        `json:"barn_id,omitempty"`
	TestEmail   bool          `json:"test_email,omitempty"`
	TestDiscord bool          `json:"test_discord,omitempty"`
	VideoSource string        `json:"video_source,omitempty"`
	Camera      string        `json:"camera,omitempty"` // registered camera id or name
	RequestedAt time.Time     `json:"requested_at,omitempty"`
}

type Heartbeat struct {
	SourceID  string    `json:"barn_id"`
	Frames    uint64    `json:"frames"`
	Pending   int       `json:"pending"`
	TimeStamp time.Time `json:"timestamp"`
}

// Camera is a registered video source.
type Camera struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
