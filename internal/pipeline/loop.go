package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/annotate"
	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/config"
	"github.com/Capitan-Parrot/barn-monitor/internal/metrics"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/services/detection"
)

const (
	// MaxModelErrors consecutive integrity errors stop the loop.
	MaxModelErrors = 3

	stopTimeout      = 5 * time.Second
	errorLogInterval = 15 * time.Second
)

var (
	errStreamLost = errors.New("stream lost")
	errStalled    = errors.New("stream stalled")
)

type Inferer interface {
	Infer(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

// Notifier receives qualifying detections. OnDetection is called for events
// that passed the cooldown gate, Record for the ones that did not.
type Notifier interface {
	OnDetection(event models.DetectionEvent)
	Record(event models.DetectionEvent)
}

type Deps struct {
	Source   capture.Source
	Inferer  Inferer
	Configs  *config.Store
	Evidence *EvidenceWriter
	Notifier Notifier
	Metrics  *metrics.Metrics

	// OnFrame and OnStatus are optional output callbacks. They run on the
	// loop goroutine and must not block.
	OnFrame  func(models.FrameResult)
	OnStatus func(models.StatusEvent)

	Annotate func(frame models.Frame, dets []models.Detection, highlight int) ([]byte, error)
	Now      func() time.Time
}

// Loop drives one video source through inference, filtering, evidence and
// notification, reconnecting on stream loss or stall until stopped.
type Loop struct {
	Deps
	videoSource string
	gate        *CooldownGate

	modelErrors int
	lastErrLog  time.Time

	mu      sync.Mutex
	state   models.StreamState
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewLoop(videoSource string, deps Deps) *Loop {
	if deps.Annotate == nil {
		deps.Annotate = annotate.Draw
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Loop{
		Deps:        deps,
		videoSource: videoSource,
		gate:        NewCooldownGate(deps.Configs.Current().CooldownDuration()),
		state:       models.StateStopped,
	}
}

func (l *Loop) State() models.StreamState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Run blocks until ctx is cancelled, Stop is called, or the model server keeps
// failing with integrity errors. Stream problems never end Run.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("detection loop is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	defer func() {
		cancel()
		l.setState(models.StateStopped, "Monitoring stopped")
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		close(done)
	}()

	l.modelErrors = 0
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		cfg := l.Configs.Current()

		l.setState(models.StateConnecting, "Connecting to "+capture.MaskURL(l.videoSource))
		stream, err := l.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := calculateBackoff(attempt, cfg.Stream.OpenRetryDelay, cfg.Stream.MaxOpenRetryDelay)
			l.Metrics.IncReconnects()
			log.Warn().Msgf("Loop: %v, retrying in %s", err, delay)
			l.setState(models.StateConnecting, fmt.Sprintf("Connection failed, retrying in %s", delay))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		attempt = 0

		err = l.consume(ctx, stream)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errStalled):
			l.setState(models.StateStalled, "Video stalled, reconnecting...")
		case errors.Is(err, errStreamLost):
			l.setState(models.StateStreamLost, "Stream lost, reconnecting...")
		case err != nil:
			log.Error().Msgf("Loop: %v", err)
			return err
		}

		l.Metrics.IncReconnects()
		if !sleep(ctx, l.Configs.Current().Stream.ReconnectDelay) {
			return nil
		}
	}
}

// Stop cancels Run and waits for it to return. Safe to call from any goroutine.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done, running := l.cancel, l.done, l.running
	l.mu.Unlock()
	if !running {
		return
	}

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warn().Msgf("Loop: stop timed out after %s", stopTimeout)
	}
}

// open runs Source.Open on its own goroutine so that a stop request does not
// wait for a hanging connect. A stream opened after cancellation is closed.
func (l *Loop) open(ctx context.Context) (capture.Stream, error) {
	type result struct {
		stream capture.Stream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := l.Source.Open(ctx, l.videoSource)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		return r.stream, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type readResult struct {
	frame models.Frame
	err   error
}

// consume reads frames until the stream fails, stalls or ctx is done. The
// reader goroutine owns the stream and closes it once it exits. On stall or
// loss consume waits up to the freeze timeout for the handle to be released,
// so that the next Open does not race a device that is still held.
func (l *Loop) consume(ctx context.Context, stream capture.Stream) error {
	frames := make(chan readResult, 1)
	quit := make(chan struct{})
	released := make(chan struct{})
	go readFrames(stream, frames, quit, released)

	freeze := l.Configs.Current().Stream.FreezeTimeout
	err := l.watch(ctx, frames, freeze)
	close(quit)

	if errors.Is(err, errStalled) || errors.Is(err, errStreamLost) {
		select {
		case <-released:
		case <-ctx.Done():
		case <-time.After(freeze):
			log.Warn().Msgf("Loop: stream handle not released after %s, reconnecting anyway", freeze)
		}
	}
	return err
}

func readFrames(stream capture.Stream, frames chan<- readResult, quit <-chan struct{}, released chan<- struct{}) {
	defer close(released)
	defer stream.Close()
	for {
		f, err := stream.Read()
		select {
		case frames <- readResult{f, err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-quit:
			return
		default:
		}
	}
}

func (l *Loop) watch(ctx context.Context, frames <-chan readResult, freeze time.Duration) error {
	watchdog := time.NewTicker(freeze / 2)
	defer watchdog.Stop()

	lastFrame := time.Now()
	active := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case r := <-frames:
			if r.err != nil {
				if !errors.Is(r.err, capture.ErrEndOfStream) {
					log.Warn().Msgf("Loop: read failed: %v", r.err)
				}
				return errStreamLost
			}
			if !active {
				active = true
				l.setState(models.StateActive, "Monitoring Active")
			}
			if err := l.process(ctx, r.frame); err != nil {
				return err
			}
			lastFrame = time.Now()

		case <-watchdog.C:
			if time.Since(lastFrame) > freeze {
				log.Warn().Msgf("Loop: no frame for %s", time.Since(lastFrame).Round(time.Millisecond))
				return errStalled
			}
			if next := l.Configs.Current().Stream.FreezeTimeout; next != freeze {
				freeze = next
				watchdog.Reset(freeze / 2)
			}
		}
	}
}

func (l *Loop) process(ctx context.Context, frame models.Frame) error {
	cfg := l.Configs.Current()
	target := cfg.Detection.TargetClass

	dets, err := l.Inferer.Infer(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return l.inferenceFailed(err)
	}
	l.modelErrors = 0
	l.Metrics.IncFrames()

	matched, confidence, label := Filter(dets, target, cfg.Detection.ConfidenceThreshold, cfg.ClassName)

	var annotated []byte
	annotatedFrame := func() []byte {
		if annotated == nil {
			out, err := l.Annotate(frame, dets, target)
			if err != nil {
				log.Debug().Msgf("Loop: annotate frame %d: %v", frame.Seq, err)
				out = frame.Data
			}
			annotated = out
		}
		return annotated
	}

	if matched {
		l.Metrics.IncDetections()
		now := l.Now()
		event := models.DetectionEvent{
			ID:         uuid.NewString(),
			SourceID:   cfg.SourceID,
			Timestamp:  now,
			Confidence: confidence,
			ClassLabel: label,
		}

		l.gate.SetCooldown(cfg.CooldownDuration())
		if l.gate.ShouldNotify(now) {
			l.gate.MarkNotified(now)

			image := frame.Data
			if cfg.Storage.SaveAnnotatedImage {
				image = annotatedFrame()
			}
			if l.Evidence != nil {
				path, err := l.Evidence.Save(ctx, image, event)
				if err != nil {
					l.Metrics.IncEvidence(false)
					log.Error().Msgf("Loop: save evidence: %v", err)
				}
				event.EvidencePath = path
			}
			log.Info().Msgf("Loop: %s detected in %s (%.2f)", label, cfg.SourceID, confidence)
			l.Notifier.OnDetection(event)
		} else {
			l.Notifier.Record(event)
		}
	}

	if l.OnFrame != nil {
		out := frame
		if cfg.Debug.Annotated {
			out.Data = annotatedFrame()
		}
		l.OnFrame(models.FrameResult{Frame: out, Matched: matched, Confidence: confidence, ClassLabel: label})
	}
	return nil
}

// inferenceFailed skips the frame on transient errors and gives up after
// MaxModelErrors consecutive integrity errors.
func (l *Loop) inferenceFailed(err error) error {
	l.Metrics.IncInferenceErrors()

	if errors.Is(err, detection.ErrModelIntegrity) {
		l.modelErrors++
		if l.modelErrors >= MaxModelErrors {
			return fmt.Errorf("inference failed %d times in a row: %w", l.modelErrors, err)
		}
	}

	if time.Since(l.lastErrLog) > errorLogInterval {
		log.Warn().Msgf("Loop: inference failed, skipping frame: %v", err)
		l.lastErrLog = time.Now()
	}
	return nil
}

func (l *Loop) setState(s models.StreamState, msg string) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()

	if changed {
		log.Info().Msgf("Loop: %s (%s)", s, msg)
	}
	l.Metrics.SetState(s)
	if l.OnStatus != nil {
		l.OnStatus(models.StatusEvent{
			SourceID:  l.Configs.Current().SourceID,
			State:     s,
			Message:   msg,
			TimeStamp: time.Now(),
		})
	}
}

func calculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return max
	}
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > max {
		delay = max
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
