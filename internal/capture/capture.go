package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

// ErrEndOfStream is returned by Stream.Read when the source yields no frame.
var ErrEndOfStream = errors.New("end of stream")

// Source opens a video feed. A failed Open is recoverable: callers retry.
type Source interface {
	Open(ctx context.Context, source string) (Stream, error)
}

// Stream yields frames until it fails with ErrEndOfStream. Read and Close are
// called from the same goroutine.
type Stream interface {
	Read() (models.Frame, error)
	Close() error
}

// Mux routes a source string to a backend by scheme. "s3://bucket/prefix"
// goes to Replay, everything else (device index, file path, rtsp/http URL)
// goes to Live.
type Mux struct {
	Live   Source
	Replay Source
}

func (m *Mux) Open(ctx context.Context, source string) (Stream, error) {
	if strings.HasPrefix(source, "s3://") {
		if m.Replay == nil {
			return nil, fmt.Errorf("replay source is not configured for %s", source)
		}
		return m.Replay.Open(ctx, source)
	}
	if m.Live == nil {
		return nil, fmt.Errorf("live source is not configured")
	}
	return m.Live.Open(ctx, source)
}

// MaskURL hides the password of a stream URL so it can be logged.
func MaskURL(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	return u.Redacted()
}
