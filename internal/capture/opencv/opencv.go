// Package opencv reads live feeds (device index, file, rtsp/http URL) through gocv.
package opencv

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

const captureOptionsEnv = "OPENCV_FFMPEG_CAPTURE_OPTIONS"

var transportOnce sync.Once

// SetTransport forces the RTSP transport for every capture opened by this
// process. Only the first call has an effect; an explicit environment value wins.
func SetTransport(transport string) {
	transportOnce.Do(func() {
		if transport == "" || os.Getenv(captureOptionsEnv) != "" {
			return
		}
		_ = os.Setenv(captureOptionsEnv, "rtsp_transport;"+transport+"|stimeout;5000000")
		log.Debug().Msgf("Capture: %s=rtsp_transport;%s", captureOptionsEnv, transport)
	})
}

type Source struct {
	JPEGQuality int
}

func NewSource() *Source {
	return &Source{JPEGQuality: 90}
}

func (s *Source) Open(ctx context.Context, source string) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var device interface{} = source
	if idx, err := strconv.Atoi(source); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video capture %s: %w", capture.MaskURL(source), err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture %s is not opened", capture.MaskURL(source))
	}

	return &stream{vc: vc, img: gocv.NewMat(), quality: s.JPEGQuality}, nil
}

type stream struct {
	vc      *gocv.VideoCapture
	img     gocv.Mat
	quality int
	seq     atomic.Uint64
}

func (s *stream) Read() (models.Frame, error) {
	if !s.vc.Read(&s.img) || s.img.Empty() {
		return models.Frame{}, capture.ErrEndOfStream
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.img, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return models.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	size := s.img.Size()
	return models.Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Width:     size[1],
		Height:    size[0],
		Data:      data,
	}, nil
}

func (s *stream) Close() error {
	s.img.Close()
	return s.vc.Close()
}
