package notify

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/Capitan-Parrot/barn-monitor/internal/config"
)

// Policy is an immutable snapshot of the notification settings together with
// the sinks built from them. A reload builds a new Policy.
type Policy struct {
	ImmediateEnabled bool
	DailyEnabled     bool
	DailyHour        int
	DailyMinute      int

	// nil when the channel is disabled or lacks credentials
	Email   Sink
	Discord Sink
	Kafka   Sink

	DiscordEnabled bool
	Announce       []string
}

// DetectionSinks returns the channels that receive detection notifications.
func (p *Policy) DetectionSinks() []Sink {
	return lo.Filter([]Sink{p.Email, p.Discord, p.Kafka}, func(s Sink, _ int) bool { return s != nil })
}

// AnnounceSinks returns the configured channels named in Announce.
func (p *Policy) AnnounceSinks() []Sink {
	return lo.Filter(p.DetectionSinks(), func(s Sink, _ int) bool {
		return lo.Contains(p.Announce, s.Name())
	})
}

func (p *Policy) String() string {
	var modes []string
	if p.ImmediateEnabled {
		modes = append(modes, "Immediate")
	}
	if p.DailyEnabled {
		modes = append(modes, fmt.Sprintf("Daily@%02d:%02d", p.DailyHour, p.DailyMinute))
	}
	if len(modes) == 0 {
		modes = append(modes, "None")
	}
	names := lo.Map(p.DetectionSinks(), func(s Sink, _ int) string { return s.Name() })
	return fmt.Sprintf("modes: %s, channels: [%s]", strings.Join(modes, ", "), strings.Join(names, " "))
}

// PolicyFromConfig builds a policy from a configuration snapshot. The master
// switch turns both modes off. publisher may be nil.
func PolicyFromConfig(cfg *config.Config, publisher Publisher) *Policy {
	n := cfg.Notification
	p := &Policy{
		ImmediateEnabled: n.Enabled && n.ImmediateEnabled,
		DailyEnabled:     n.Enabled && n.DailySummaryEnabled,
		DiscordEnabled:   n.DiscordEnabled,
		Announce:         n.AnnounceChannels,
	}

	hour, minute, err := config.ParseDailyTime(n.DailySummaryTime)
	if err != nil {
		log.Warn().Msgf("Policy: invalid daily summary time %q, using 09:00: %v", n.DailySummaryTime, err)
		hour, minute = 9, 0
	}
	p.DailyHour, p.DailyMinute = hour, minute

	e := cfg.Email
	if n.EmailEnabled && e.User != "" && e.Password != "" && e.Recipient != "" {
		p.Email = NewEmailSink(e.Host, e.Port, e.User, e.Password, e.Recipient)
	}
	if n.DiscordEnabled && cfg.Discord.WebhookURL != "" {
		p.Discord = NewDiscordSink(cfg.Discord.WebhookURL)
	}
	if n.KafkaEnabled && publisher != nil {
		p.Kafka = NewKafkaSink(publisher, cfg.SourceID)
	}
	return p
}
