package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/metrics"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const (
	activeInterval  = 30 * time.Second
	idleInterval    = 60 * time.Second
	stopTimeout     = 2 * time.Second
	dispatchTimeout = time.Minute
)

// TestResults reports the outcome of SendTestNotification per channel.
type TestResults struct {
	EmailSuccess   bool   `json:"email_success"`
	EmailMessage   string `json:"email_message"`
	DiscordSuccess bool   `json:"discord_success"`
	DiscordMessage string `json:"discord_message"`
}

// Scheduler decides when detections are sent: immediately, in a daily
// summary, or both. Dispatch is fire-and-forget with one attempt per sink.
type Scheduler struct {
	policy  atomic.Pointer[Policy]
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex
	pending     []models.DetectionEvent
	lastSummary string
	onNotify    func(kind Kind, events []models.DetectionEvent)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	loops  atomic.Int32

	inflight sync.WaitGroup
}

func NewScheduler(policy *Policy, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{metrics: m, now: time.Now}
	s.policy.Store(policy)
	m.SetPendingFunc(s.PendingCount)
	return s
}

func (s *Scheduler) Policy() *Policy {
	return s.policy.Load()
}

// SetPolicy replaces the policy. The background loop and the detection path
// pick it up on their next read.
func (s *Scheduler) SetPolicy(p *Policy) {
	s.policy.Store(p)
	log.Info().Msgf("Scheduler: policy updated (%s)", p)
}

// OnNotify registers a callback invoked after every detection dispatch.
func (s *Scheduler) OnNotify(fn func(kind Kind, events []models.DetectionEvent)) {
	s.mu.Lock()
	s.onNotify = fn
	s.mu.Unlock()
}

// Start spawns the timer loop. Calling it while running is a no-op.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.loops.Add(1)
	go s.run(ctx, s.done)

	log.Info().Msgf("Scheduler: started (%s)", s.Policy())
}

// Stop ends the timer loop and waits for it. In-flight dispatches are not
// cancelled.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		log.Warn().Msg("Scheduler: timer loop did not stop in time")
	}
	s.cancel = nil
	log.Info().Msg("Scheduler: stopped")
}

func (s *Scheduler) Running() bool {
	return s.loops.Load() > 0
}

// Wait blocks until all dispatches started so far have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.loops.Add(-1)

	for {
		interval := idleInterval
		if s.Policy().DailyEnabled {
			interval = activeInterval
			s.tick(s.now())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// tick sends the daily summary when now is within a minute of the configured
// time and no summary went out today. It reports whether one was sent.
func (s *Scheduler) tick(now time.Time) bool {
	p := s.Policy()
	if !p.DailyEnabled || !isTargetTime(now, p.DailyHour, p.DailyMinute) {
		return false
	}

	date := now.Format("2006-01-02")
	s.mu.Lock()
	if s.lastSummary == date {
		s.mu.Unlock()
		return false
	}
	s.lastSummary = date
	s.mu.Unlock()

	s.sendSummary(p)
	return true
}

func isTargetTime(now time.Time, hour, minute int) bool {
	current := now.Hour()*60 + now.Minute()
	target := hour*60 + minute
	diff := current - target
	return diff >= -1 && diff <= 1
}

// OnDetection queues the event when daily mode is on and dispatches it when
// immediate mode is on. It never blocks on network I/O.
func (s *Scheduler) OnDetection(e models.DetectionEvent) {
	p := s.Policy()
	log.Info().Msgf("Scheduler: detection received: %s (%s)", e.SourceID, percent(e.Confidence))

	if p.DailyEnabled {
		s.enqueue(e)
	}
	if p.ImmediateEnabled {
		s.dispatch(p.DetectionSinks(), Message{
			Kind:      KindImmediate,
			Subject:   immediateSubject(e),
			Events:    []models.DetectionEvent{e},
			ImagePath: e.EvidencePath,
		})
		s.notified(KindImmediate, []models.DetectionEvent{e})
	}
}

// Record only queues the event for the daily summary.
func (s *Scheduler) Record(e models.DetectionEvent) {
	if s.Policy().DailyEnabled {
		s.enqueue(e)
	}
}

func (s *Scheduler) enqueue(e models.DetectionEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	n := len(s.pending)
	s.mu.Unlock()
	log.Debug().Msgf("Scheduler: detection queued, total today: %d", n)
}

// ForceSendSummary drains the queue and dispatches a summary now. It returns
// the number of detections included.
func (s *Scheduler) ForceSendSummary() int {
	log.Info().Msg("Scheduler: force sending daily summary")
	return s.sendSummary(s.Policy())
}

func (s *Scheduler) sendSummary(p *Policy) int {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	log.Info().Msgf("Scheduler: sending daily summary: %d detections", len(events))
	s.dispatch(p.DetectionSinks(), Message{
		Kind:    KindDaily,
		Subject: summarySubject(len(events)),
		Events:  events,
	})
	s.notified(KindDaily, events)
	return len(events)
}

// Announce sends a lifecycle message ([START], [HEARTBEAT], ...) to the
// announce channels.
func (s *Scheduler) Announce(text string) {
	s.dispatch(s.Policy().AnnounceSinks(), Message{
		Kind:    KindSystem,
		Subject: "[" + productName + "] " + text,
		Text:    text,
	})
}

// SendTestNotification probes the email and Discord channels synchronously
// without touching the queue.
func (s *Scheduler) SendTestNotification(ctx context.Context, testEmail, testDiscord bool) TestResults {
	p := s.Policy()
	var r TestResults

	if testEmail {
		if p.Email == nil {
			r.EmailMessage = "Email not configured"
		} else {
			r.EmailSuccess, r.EmailMessage = p.Email.Test(ctx)
		}
		s.logTest("email", r.EmailSuccess, r.EmailMessage)
	}

	if testDiscord {
		switch {
		case !p.DiscordEnabled:
			r.DiscordMessage = "Discord not enabled"
		case p.Discord == nil:
			r.DiscordMessage = "Discord webhook URL not configured"
		default:
			r.DiscordSuccess, r.DiscordMessage = p.Discord.Test(ctx)
		}
		s.logTest("discord", r.DiscordSuccess, r.DiscordMessage)
	}
	return r
}

func (s *Scheduler) logTest(channel string, ok bool, msg string) {
	if ok {
		log.Info().Msgf("Scheduler: test %s: %s", channel, msg)
	} else {
		log.Error().Msgf("Scheduler: test %s: %s", channel, msg)
	}
}

func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Pending returns a copy of the queued detections.
func (s *Scheduler) Pending() []models.DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DetectionEvent(nil), s.pending...)
}

// ClearPending drops queued detections without sending them.
func (s *Scheduler) ClearPending() int {
	s.mu.Lock()
	n := len(s.pending)
	s.pending = nil
	s.mu.Unlock()
	log.Info().Msgf("Scheduler: cleared %d pending detections", n)
	return n
}

// dispatch sends msg to every sink on its own goroutine. Errors and panics are
// logged and dropped.
func (s *Scheduler) dispatch(sinks []Sink, msg Message) {
	for _, sink := range sinks {
		s.inflight.Add(1)
		go func(sink Sink) {
			defer s.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					s.metrics.Notification(sink.Name(), false)
					log.Error().Msgf("Scheduler: %s sink panicked: %v", sink.Name(), r)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
			defer cancel()

			if err := sink.Send(ctx, msg); err != nil {
				s.metrics.Notification(sink.Name(), false)
				log.Error().Msgf("Scheduler: %s %s notification failed: %v", sink.Name(), msg.Kind, err)
				return
			}
			s.metrics.Notification(sink.Name(), true)
			log.Info().Msgf("Scheduler: %s %s notification sent", msg.Kind, sink.Name())
		}(sink)
	}
}

func (s *Scheduler) notified(kind Kind, events []models.DetectionEvent) {
	s.mu.Lock()
	fn := s.onNotify
	s.mu.Unlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Scheduler: notification callback panicked: %v", r)
		}
	}()
	fn(kind, events)
}

func (r TestResults) String() string {
	return fmt.Sprintf("email: %v %s, discord: %v %s", r.EmailSuccess, r.EmailMessage, r.DiscordSuccess, r.DiscordMessage)
}
