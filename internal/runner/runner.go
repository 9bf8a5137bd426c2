package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/config"
	"github.com/Capitan-Parrot/barn-monitor/internal/kafka"
	"github.com/Capitan-Parrot/barn-monitor/internal/metrics"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/notify"
)

const stopTimeout = 5 * time.Second

// Loop is a detection loop bound to one video source.
type Loop interface {
	Run(ctx context.Context) error
	Stop()
	State() models.StreamState
}

type Notifier interface {
	Announce(text string)
	SetPolicy(p *notify.Policy)
	PendingCount() int
	ForceSendSummary() int
	ClearPending() int
	SendTestNotification(ctx context.Context, testEmail, testDiscord bool) notify.TestResults
}

// EventProducer publishes runner events. May be nil.
type EventProducer interface {
	notify.Publisher
	SendHeartbeat(hb models.Heartbeat) error
	SendStatus(ev models.StatusEvent) error
}

type CommandSource interface {
	Messages() <-chan kafka.Message
}

// CameraResolver finds a registered camera by id or name. It returns nil
// when nothing matches.
type CameraResolver interface {
	FindCamera(ctx context.Context, ref string) (*models.Camera, error)
}

type Runner struct {
	configs  *config.Store
	notifier Notifier
	producer EventProducer
	consumer CommandSource
	metrics  *metrics.Metrics
	newLoop  func(source string) Loop
	cameras  CameraResolver

	mu     sync.Mutex
	loop   Loop
	source string
	cancel context.CancelFunc
	done   chan struct{}
	state  models.StreamState
}

// New wires the runner. producer and consumer may be nil when Kafka is not
// configured. A config reload rebuilds the notification policy.
func New(configs *config.Store, notifier Notifier, producer EventProducer, consumer CommandSource, m *metrics.Metrics, newLoop func(source string) Loop) *Runner {
	r := &Runner{
		configs:  configs,
		notifier: notifier,
		producer: producer,
		consumer: consumer,
		metrics:  m,
		newLoop:  newLoop,
		state:    models.StateStopped,
	}
	configs.Subscribe(r.applyConfig)
	return r
}

// SetCameras enables starting loops by registered camera id or name.
func (r *Runner) SetCameras(c CameraResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cameras = c
}

func (r *Runner) applyConfig(cfg *config.Config) {
	var pub notify.Publisher
	if r.producer != nil {
		pub = r.producer
	}
	r.notifier.SetPolicy(notify.PolicyFromConfig(cfg, pub))
}

func (r *Runner) SourceID() string {
	return r.configs.Current().SourceID
}

// Source returns the video source of the running loop, or the configured one.
func (r *Runner) Source() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source != "" {
		return r.source
	}
	return r.configs.Current().VideoSource()
}

func (r *Runner) State() models.StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop == nil {
		return models.StateStopped
	}
	return r.loop.State()
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loop != nil
}

// StartLoop starts a detection loop for source. An empty source uses the
// configured one. Only one loop runs at a time.
func (r *Runner) StartLoop(ctx context.Context, source string) error {
	if source == "" {
		source = r.configs.Current().VideoSource()
	}
	if source == "" {
		return fmt.Errorf("no video source configured")
	}

	r.mu.Lock()
	if r.loop != nil {
		r.mu.Unlock()
		return fmt.Errorf("detection loop for %s is already running", capture.MaskURL(r.source))
	}
	loop := r.newLoop(source)
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.loop, r.source, r.cancel, r.done = loop, source, cancel, done
	r.mu.Unlock()

	barn := r.SourceID()
	log.Info().Msgf("Runner: starting detection for %s on %s", barn, capture.MaskURL(source))
	r.notifier.Announce(fmt.Sprintf("[START] Barn Monitor started for %s", barn))

	go func() {
		defer close(done)
		err := loop.Run(loopCtx)

		r.mu.Lock()
		if r.loop == loop {
			r.loop, r.cancel = nil, nil
		}
		r.mu.Unlock()
		cancel()

		if err != nil {
			log.Error().Msgf("Runner: detection loop for %s failed: %v", barn, err)
			r.notifier.Announce(fmt.Sprintf("[ERROR] System crashed: %v", err))
			return
		}
		log.Info().Msgf("Runner: detection loop for %s finished", barn)
	}()
	return nil
}

// StartCamera resolves a registered camera and starts a loop on its source.
func (r *Runner) StartCamera(ctx context.Context, ref string) error {
	r.mu.Lock()
	cameras := r.cameras
	r.mu.Unlock()
	if cameras == nil {
		return fmt.Errorf("camera registry is not configured")
	}

	cam, err := cameras.FindCamera(ctx, ref)
	if err != nil {
		return err
	}
	if cam == nil {
		return fmt.Errorf("camera %q not found", ref)
	}
	log.Info().Msgf("Runner: camera %q resolved to #%d %s", ref, cam.ID, cam.Name)
	return r.StartLoop(ctx, cam.Source)
}

// StopLoop stops the running loop and waits for it to exit. It reports
// whether a loop was running.
func (r *Runner) StopLoop() bool {
	r.mu.Lock()
	loop, cancel, done := r.loop, r.cancel, r.done
	r.loop, r.cancel = nil, nil
	r.mu.Unlock()

	if loop == nil {
		return false
	}

	cancel()
	loop.Stop()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warn().Msgf("Runner: detection loop did not stop within %s", stopTimeout)
	}

	log.Info().Msgf("Runner: detection for %s stopped", r.SourceID())
	r.notifier.Announce("[STOP] System stopped by user")
	return true
}

// Wait blocks until the current loop, if any, has exited.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status forwards a loop state transition to the event stream and announces
// loss of an active stream.
func (r *Runner) Status(ev models.StatusEvent) {
	r.mu.Lock()
	prev := r.state
	r.state = ev.State
	r.mu.Unlock()

	if prev == ev.State {
		return
	}
	if prev == models.StateActive && ev.State == models.StateStreamLost {
		r.notifier.Announce("[ERROR] Video source lost")
	}
	if r.producer != nil {
		if err := r.producer.SendStatus(ev); err != nil {
			log.Warn().Msgf("Runner: send status event: %v", err)
		}
	}
}

// ListenAndRun handles control commands until ctx is done or the command
// channel closes. A message is acknowledged once it has been handled.
func (r *Runner) ListenAndRun(ctx context.Context) {
	if r.consumer == nil {
		return
	}
	log.Info().Msg("Runner: listening for Kafka commands")

	messages := r.consumer.Messages()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Runner: shutting down")
			return
		case msg, ok := <-messages:
			if !ok {
				log.Info().Msg("Runner: command stream closed")
				return
			}

			var cmd models.Command
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				log.Warn().Msgf("Runner: invalid command format: %v", err)
				// Не подтверждаем сообщение при ошибке парсинга
				continue
			}
			if cmd.SourceID != "" && cmd.SourceID != r.SourceID() {
				msg.Ack()
				continue
			}

			log.Info().Msgf("Runner: received command %s", cmd.Action)
			if err := r.Handle(ctx, cmd); err != nil {
				log.Error().Msgf("Runner: command %s failed: %v", cmd.Action, err)
			}
			msg.Ack()
		}
	}
}

// Handle executes one control command.
func (r *Runner) Handle(ctx context.Context, cmd models.Command) error {
	switch cmd.Action {
	case models.CommandStart:
		if cmd.Camera != "" {
			return r.StartCamera(ctx, cmd.Camera)
		}
		return r.StartLoop(ctx, cmd.VideoSource)
	case models.CommandStop:
		if !r.StopLoop() {
			return fmt.Errorf("detection loop is not running")
		}
	case models.CommandForceSummary:
		n := r.notifier.ForceSendSummary()
		log.Info().Msgf("Runner: summary with %d detections sent", n)
	case models.CommandTestNotification:
		email, discord := cmd.TestEmail, cmd.TestDiscord
		if !email && !discord {
			email, discord = true, true
		}
		res := r.notifier.SendTestNotification(ctx, email, discord)
		log.Info().Msgf("Runner: test notification: %s", res)
	case models.CommandClearPending:
		r.notifier.ClearPending()
	default:
		return fmt.Errorf("unknown command %q", cmd.Action)
	}
	return nil
}

// Heartbeat publishes a liveness record on every tick and announces
// "[HEARTBEAT]" every notification.heartbeat_interval.
func (r *Runner) Heartbeat(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	lastAnnounce := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if r.producer != nil {
				hb := models.Heartbeat{
					SourceID:  r.SourceID(),
					Pending:   r.notifier.PendingCount(),
					TimeStamp: now.UTC(),
				}
				if r.metrics != nil {
					hb.Frames = r.metrics.FramesProcessed.Load()
				}
				if err := r.producer.SendHeartbeat(hb); err != nil {
					log.Warn().Msgf("Runner: send heartbeat: %v", err)
				}
			}

			interval := r.configs.Current().Notification.HeartbeatInterval
			if interval > 0 && now.Sub(lastAnnounce) >= interval && r.Running() {
				r.notifier.Announce("[HEARTBEAT] System is running normally")
				lastAnnounce = now
			}
		}
	}
}
