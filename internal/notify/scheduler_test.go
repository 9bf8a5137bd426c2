package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/config"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	name    string
	err     error
	panics  bool
	testOK  bool
	testMsg string

	mu   sync.Mutex
	msgs []Message
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, msg Message) error {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeSink) Test(context.Context) (bool, string) { return f.testOK, f.testMsg }

func (f *fakeSink) sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

func event(conf float64) models.DetectionEvent {
	return models.DetectionEvent{
		ID:         "id",
		SourceID:   "Barn 1",
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
		Confidence: conf,
		ClassLabel: "Mounting",
	}
}

func TestOnDetectionBothModes(t *testing.T) {
	email := &fakeSink{name: "email"}
	s := NewScheduler(&Policy{ImmediateEnabled: true, DailyEnabled: true, Email: email}, nil)

	s.OnDetection(event(0.9))
	s.Wait()

	require.Len(t, email.sent(), 1)
	assert.Equal(t, KindImmediate, email.sent()[0].Kind)
	assert.Equal(t, "[Barn Monitor] Mounting Detected", email.sent()[0].Subject)
	assert.Equal(t, 1, s.PendingCount())
}

func TestOnDetectionImmediateOnly(t *testing.T) {
	discord := &fakeSink{name: "discord"}
	s := NewScheduler(&Policy{ImmediateEnabled: true, Discord: discord}, nil)

	e := event(0.7)
	e.EvidencePath = "/data/images/detect.jpg"
	s.OnDetection(e)
	s.Wait()

	require.Len(t, discord.sent(), 1)
	assert.Equal(t, "/data/images/detect.jpg", discord.sent()[0].ImagePath)
	assert.Zero(t, s.PendingCount())
}

func TestPendingCountAndDrain(t *testing.T) {
	email := &fakeSink{name: "email"}
	s := NewScheduler(&Policy{DailyEnabled: true, Email: email}, nil)

	for i := 0; i < 7; i++ {
		s.OnDetection(event(0.6))
	}
	s.Record(event(0.61))
	s.Wait()

	assert.Empty(t, email.sent())
	assert.Equal(t, 8, s.PendingCount())
	assert.Len(t, s.Pending(), 8)

	assert.Equal(t, 8, s.ForceSendSummary())
	assert.Zero(t, s.PendingCount())
	s.Wait()
	assert.Equal(t, 0, s.ForceSendSummary())
	s.Wait()

	sent := email.sent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].Events, 8)
	assert.Equal(t, "[Barn Monitor] Daily Summary (8 detections)", sent[0].Subject)
	assert.Empty(t, sent[1].Events)
	assert.Equal(t, "[Barn Monitor] Daily Summary - No Detections", sent[1].Subject)
}

func TestRecordIgnoredWithoutDailyMode(t *testing.T) {
	s := NewScheduler(&Policy{ImmediateEnabled: true}, nil)
	s.Record(event(0.9))
	assert.Zero(t, s.PendingCount())
}

func TestClearPending(t *testing.T) {
	s := NewScheduler(&Policy{DailyEnabled: true}, nil)
	s.OnDetection(event(0.9))
	s.OnDetection(event(0.8))
	assert.Equal(t, 2, s.ClearPending())
	assert.Zero(t, s.PendingCount())
}

func TestTickFiresOncePerDay(t *testing.T) {
	email := &fakeSink{name: "email"}
	s := NewScheduler(&Policy{DailyEnabled: true, DailyHour: 9, DailyMinute: 0, Email: email}, nil)
	s.OnDetection(event(0.9))

	day := func(d, h, m, sec int) time.Time { return time.Date(2024, 5, d, h, m, sec, 0, time.Local) }

	assert.False(t, s.tick(day(1, 8, 57, 0)))
	assert.True(t, s.tick(day(1, 8, 59, 30)))
	s.Wait()
	assert.False(t, s.tick(day(1, 9, 0, 15)))
	assert.False(t, s.tick(day(1, 9, 1, 30)))
	assert.False(t, s.tick(day(1, 9, 2, 0)))
	assert.True(t, s.tick(day(2, 9, 0, 10)))
	s.Wait()

	sent := email.sent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].Events, 1)
	assert.Empty(t, sent[1].Events)
}

func TestSummariesKeepDispatchOrderAfterWait(t *testing.T) {
	email := &fakeSink{name: "email"}
	s := NewScheduler(&Policy{DailyEnabled: true, Email: email}, nil)

	for round := 1; round <= 3; round++ {
		for i := 0; i < round; i++ {
			s.OnDetection(event(0.8))
		}
		require.Equal(t, round, s.ForceSendSummary())
		s.Wait()
	}

	sent := email.sent()
	require.Len(t, sent, 3)
	for i, msg := range sent {
		assert.Len(t, msg.Events, i+1)
	}
}

func TestTickDisabledDailyMode(t *testing.T) {
	s := NewScheduler(&Policy{ImmediateEnabled: true, DailyHour: 9}, nil)
	assert.False(t, s.tick(time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)))
}

func TestStartIsIdempotent(t *testing.T) {
	s := NewScheduler(&Policy{DailyEnabled: true, DailyHour: 3}, nil)
	s.Start()
	s.Start()
	assert.EqualValues(t, 1, s.loops.Load())
	assert.True(t, s.Running())

	s.Stop()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)
	s.Stop()

	s.Start()
	assert.EqualValues(t, 1, s.loops.Load())
	s.Stop()
}

func TestChannelFailureIsContained(t *testing.T) {
	broken := &fakeSink{name: "email", err: errors.New("535 authentication failed")}
	crashing := &fakeSink{name: "kafka", panics: true}
	discord := &fakeSink{name: "discord"}
	s := NewScheduler(&Policy{ImmediateEnabled: true, Email: broken, Discord: discord, Kafka: crashing}, nil)

	assert.NotPanics(t, func() {
		s.OnDetection(event(0.9))
		s.Wait()
	})
	assert.Len(t, broken.sent(), 1)
	assert.Len(t, discord.sent(), 1)
}

func TestSendTestNotification(t *testing.T) {
	s := NewScheduler(&Policy{}, nil)
	r := s.SendTestNotification(context.Background(), true, true)
	assert.False(t, r.EmailSuccess)
	assert.Equal(t, "Email not configured", r.EmailMessage)
	assert.False(t, r.DiscordSuccess)
	assert.Equal(t, "Discord not enabled", r.DiscordMessage)

	s.SetPolicy(&Policy{DiscordEnabled: true})
	r = s.SendTestNotification(context.Background(), false, true)
	assert.Equal(t, "Discord webhook URL not configured", r.DiscordMessage)
	assert.Empty(t, r.EmailMessage)

	email := &fakeSink{name: "email", testOK: true, testMsg: "Test email sent to farmer@example.com"}
	discord := &fakeSink{name: "discord", testMsg: "discord error: 401"}
	s.SetPolicy(&Policy{DailyEnabled: true, DiscordEnabled: true, Email: email, Discord: discord})
	s.OnDetection(event(0.9))

	r = s.SendTestNotification(context.Background(), true, true)
	assert.True(t, r.EmailSuccess)
	assert.Equal(t, "Test email sent to farmer@example.com", r.EmailMessage)
	assert.False(t, r.DiscordSuccess)
	assert.Equal(t, "discord error: 401", r.DiscordMessage)
	assert.Equal(t, 1, s.PendingCount())
}

func TestAnnounceUsesAnnounceChannels(t *testing.T) {
	email := &fakeSink{name: "email"}
	discord := &fakeSink{name: "discord"}
	s := NewScheduler(&Policy{Email: email, Discord: discord, Announce: []string{"discord"}}, nil)

	s.Announce("[START] Barn monitoring system")
	s.Wait()

	assert.Empty(t, email.sent())
	require.Len(t, discord.sent(), 1)
	assert.Equal(t, KindSystem, discord.sent()[0].Kind)
	assert.Equal(t, "[START] Barn monitoring system", discord.sent()[0].Text)
}

func TestOnNotifyCallback(t *testing.T) {
	s := NewScheduler(&Policy{ImmediateEnabled: true, DailyEnabled: true}, nil)

	var kinds []Kind
	s.OnNotify(func(kind Kind, events []models.DetectionEvent) { kinds = append(kinds, kind) })

	s.OnDetection(event(0.9))
	s.ForceSendSummary()
	assert.Equal(t, []Kind{KindImmediate, KindDaily}, kinds)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Notification.DailySummaryEnabled = true
	cfg.Notification.DailySummaryTime = "18:45"
	p := PolicyFromConfig(cfg, nil)
	assert.True(t, p.ImmediateEnabled)
	assert.True(t, p.DailyEnabled)
	assert.Equal(t, 18, p.DailyHour)
	assert.Equal(t, 45, p.DailyMinute)
	assert.Nil(t, p.Email, "no credentials")
	assert.Nil(t, p.Discord)
	assert.Nil(t, p.Kafka)

	cfg.Email.User, cfg.Email.Password, cfg.Email.Recipient = "a@b.c", "pw", "d@e.f"
	cfg.Notification.DiscordEnabled = true
	cfg.Discord.WebhookURL = "https://discord.example/webhook"
	cfg.Notification.KafkaEnabled = true
	p = PolicyFromConfig(cfg, publisherFunc(func(string, any) error { return nil }))
	assert.NotNil(t, p.Email)
	assert.NotNil(t, p.Discord)
	assert.NotNil(t, p.Kafka)
	assert.Len(t, p.DetectionSinks(), 3)
	assert.Len(t, p.AnnounceSinks(), 2)

	cfg.Notification.Enabled = false
	p = PolicyFromConfig(cfg, nil)
	assert.False(t, p.ImmediateEnabled)
	assert.False(t, p.DailyEnabled)

	cfg.Notification.DailySummaryTime = "bogus"
	p = PolicyFromConfig(cfg, nil)
	assert.Equal(t, 9, p.DailyHour)
}

type publisherFunc func(key string, v any) error

func (f publisherFunc) Publish(key string, v any) error { return f(key, v) }
