package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config структура конфига
type Config struct {
	SourceID       string        `yaml:"source_id" env:"BARN_ID"`
	ReloadInterval time.Duration `yaml:"reload_interval" env:"CONFIG_RELOAD_INTERVAL"`

	Stream struct {
		URL               string        `yaml:"url" env:"RTSP_URL"`
		Transport         string        `yaml:"transport" env:"RTSP_TRANSPORT"`
		FreezeTimeout     time.Duration `yaml:"freeze_timeout"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		OpenRetryDelay    time.Duration `yaml:"open_retry_delay"`
		MaxOpenRetryDelay time.Duration `yaml:"max_open_retry_delay"`
	} `yaml:"stream"`

	Detection struct {
		Endpoint            string         `yaml:"endpoint" env:"DETECTION_ENDPOINT"`
		Timeout             time.Duration  `yaml:"timeout"`
		TargetClass         int            `yaml:"target_class"`
		ConfidenceThreshold float64        `yaml:"confidence_threshold"`
		InferenceConfidence float64        `yaml:"inference_confidence"`
		ClassNames          map[int]string `yaml:"class_names"`
	} `yaml:"detection"`

	Notification struct {
		Enabled             bool          `yaml:"enabled" env:"NOTIFICATIONS_ENABLED"`
		Cooldown            int           `yaml:"cooldown"`
		ImmediateEnabled    bool          `yaml:"immediate_enabled" env:"IMMEDIATE_ENABLED"`
		DailySummaryEnabled bool          `yaml:"daily_summary_enabled" env:"DAILY_SUMMARY_ENABLED"`
		DailySummaryTime    string        `yaml:"daily_summary_time" env:"DAILY_SUMMARY_TIME"`
		EmailEnabled        bool          `yaml:"email_enabled" env:"EMAIL_ENABLED"`
		DiscordEnabled      bool          `yaml:"discord_enabled" env:"DISCORD_ENABLED"`
		KafkaEnabled        bool          `yaml:"kafka_enabled" env:"KAFKA_NOTIFICATIONS_ENABLED"`
		AnnounceChannels    []string      `yaml:"announce_channels" env:"ANNOUNCE_CHANNELS" envSeparator:","`
		HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	} `yaml:"notification"`

	Email struct {
		Host      string `yaml:"smtp_host" env:"SMTP_HOST"`
		Port      int    `yaml:"smtp_port" env:"SMTP_PORT"`
		User      string `yaml:"smtp_user" env:"SMTP_USER"`
		Password  string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
		Recipient string `yaml:"recipient_email" env:"RECIPIENT_EMAIL"`
	} `yaml:"email"`

	Discord struct {
		WebhookURL string `yaml:"webhook_url" env:"DISCORD_WEBHOOK_URL"`
	} `yaml:"discord"`

	Storage struct {
		SaveDir            string `yaml:"save_dir" env:"EVIDENCE_DIR"`
		SaveAnnotatedImage bool   `yaml:"save_annotated_image"`
		Bucket             string `yaml:"bucket" env:"EVIDENCE_BUCKET"`
	} `yaml:"storage"`

	Debug struct {
		Mode      bool `yaml:"mode" env:"DEBUG_MODE"`
		Annotated bool `yaml:"annotated"`
	} `yaml:"debug"`

	Logging struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
		File  string `yaml:"file" env:"LOG_FILE"`
	} `yaml:"logging"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers      []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID      string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		CommandTopic string   `yaml:"command_topic" env:"COMMAND_TOPIC"`
		EventTopic   string   `yaml:"event_topic" env:"EVENT_TOPIC"`
	} `yaml:"kafka"`

	HTTP struct {
		Addr          string        `yaml:"addr" env:"HTTP_ADDR"`
		RequestLimit  int           `yaml:"request_limit"`
		RequestWindow time.Duration `yaml:"request_window"`
		StreamFrames  bool          `yaml:"stream_frames"`
	} `yaml:"http"`
}

// Default returns the configuration used when no document is present.
func Default() *Config {
	cfg := &Config{}
	cfg.SourceID = "Unknown"
	cfg.ReloadInterval = 5 * time.Second

	cfg.Stream.Transport = "tcp"
	cfg.Stream.FreezeTimeout = 5 * time.Second
	cfg.Stream.ReconnectDelay = 2 * time.Second
	cfg.Stream.OpenRetryDelay = 3 * time.Second
	cfg.Stream.MaxOpenRetryDelay = 30 * time.Second

	cfg.Detection.Endpoint = "http://localhost:8000"
	cfg.Detection.Timeout = 10 * time.Second
	cfg.Detection.TargetClass = 1
	cfg.Detection.ConfidenceThreshold = 0.5
	cfg.Detection.InferenceConfidence = 0.1
	cfg.Detection.ClassNames = map[int]string{0: "Normal", 1: "Mounting"}

	cfg.Notification.Enabled = true
	cfg.Notification.Cooldown = 30
	cfg.Notification.ImmediateEnabled = true
	cfg.Notification.DailySummaryTime = "09:00"
	cfg.Notification.EmailEnabled = true
	cfg.Notification.AnnounceChannels = []string{"discord", "kafka"}
	cfg.Notification.HeartbeatInterval = 12 * time.Hour

	cfg.Email.Host = "smtp.gmail.com"
	cfg.Email.Port = 587

	cfg.Storage.SaveDir = "data/images"
	cfg.Storage.SaveAnnotatedImage = true
	cfg.Storage.Bucket = "evidence"

	cfg.Debug.Annotated = true

	cfg.Logging.Level = "info"

	cfg.Kafka.GroupID = "barn-monitor"
	cfg.Kafka.CommandTopic = "monitor-commands"
	cfg.Kafka.EventTopic = "monitor-events"

	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.RequestLimit = 120
	cfg.HTTP.RequestWindow = time.Minute
	return cfg
}

// LoadConfig reads the YAML document at path on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold must be within [0, 1], got %v", c.Detection.ConfidenceThreshold)
	}
	if c.Notification.Cooldown < 0 {
		return fmt.Errorf("notification.cooldown must not be negative, got %d", c.Notification.Cooldown)
	}
	if c.Stream.FreezeTimeout <= 0 {
		return fmt.Errorf("stream.freeze_timeout must be positive")
	}
	if c.ReloadInterval <= 0 {
		return fmt.Errorf("reload_interval must be positive")
	}
	if _, _, err := ParseDailyTime(c.Notification.DailySummaryTime); err != nil {
		return fmt.Errorf("notification.daily_summary_time: %w", err)
	}
	return nil
}

// CooldownDuration returns the notification cooldown.
func (c *Config) CooldownDuration() time.Duration {
	return time.Duration(c.Notification.Cooldown) * time.Second
}

// ClassName resolves a class id to its configured display name.
func (c *Config) ClassName(id int) string {
	if name, ok := c.Detection.ClassNames[id]; ok && name != "" {
		return name
	}
	return "class_" + strconv.Itoa(id)
}

// VideoSource returns the source the loop should open, honouring the debug override.
func (c *Config) VideoSource() string {
	if c.Debug.Mode {
		return "0"
	}
	return c.Stream.URL
}

// ParseDailyTime parses an "HH:MM" wall-clock time.
func ParseDailyTime(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
