package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Capitan-Parrot/barn-monitor/internal/api"
	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/capture/opencv"
	"github.com/Capitan-Parrot/barn-monitor/internal/capture/replay"
	"github.com/Capitan-Parrot/barn-monitor/internal/config"
	"github.com/Capitan-Parrot/barn-monitor/internal/database"
	"github.com/Capitan-Parrot/barn-monitor/internal/kafka"
	"github.com/Capitan-Parrot/barn-monitor/internal/logger"
	"github.com/Capitan-Parrot/barn-monitor/internal/metrics"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/notify"
	"github.com/Capitan-Parrot/barn-monitor/internal/pipeline"
	"github.com/Capitan-Parrot/barn-monitor/internal/runner"
	"github.com/Capitan-Parrot/barn-monitor/internal/s3"
	"github.com/Capitan-Parrot/barn-monitor/internal/services/detection"
)

const (
	replayFrameInterval = 200 * time.Millisecond
	heartbeatTick       = time.Minute
)

func main() {
	parser := argparse.NewParser("barn-monitor", "Livestock behavior detection and notification")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "config.yaml"})
	source := parser.String("s", "source", &argparse.Options{Help: "Video source: RTSP URL, file path, camera index or s3://bucket/prefix", Default: ""})
	camera := parser.String("", "camera", &argparse.Options{Help: "Registered camera id or name, overrides --source", Default: ""})
	barn := parser.String("b", "barn", &argparse.Options{Help: "Barn identifier used in notifications and logs", Default: ""})
	debug := parser.Flag("", "debug", &argparse.Options{Help: "Use local camera 0 instead of the configured stream", Default: false})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "Log level: trace, debug, info, warn, error", Default: ""})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	// Flags go through the environment so that they survive config reloads.
	if *barn != "" {
		os.Setenv("BARN_ID", *barn)
	}
	if *debug {
		os.Setenv("DEBUG_MODE", "true")
		*source = ""
	}
	if *logLevel != "" {
		os.Setenv("LOG_LEVEL", *logLevel)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %v, using defaults\n", err)
		cfg = config.Default()
	}

	logFile, err := logger.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Printf("Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	if err := run(cfg, *configFile, *source, *camera); err != nil {
		log.Error().Msgf("Barn monitor stopped: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configFile, source, camera string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := config.NewStore(cfg)
	m := metrics.New()
	opencv.SetTransport(cfg.Stream.Transport)

	var (
		logStore api.LogStore
		detLog   pipeline.DetectionLogger
		cameras  *database.Database
	)
	if cfg.Postgres.DSN != "" {
		db, err := database.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		logStore, detLog, cameras = db, db, db
	} else {
		log.Warn().Msg("Database is not configured, detections will not be logged")
	}

	mux := &capture.Mux{Live: opencv.NewSource()}
	var mirror pipeline.Mirror
	if cfg.Minio.Endpoint != "" {
		s3Client, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Secure)
		if err != nil {
			return fmt.Errorf("connect minio: %w", err)
		}
		if err := s3Client.EnsureBucketExists(ctx, cfg.Storage.Bucket); err != nil {
			log.Warn().Msgf("Evidence bucket %s is unavailable: %v", cfg.Storage.Bucket, err)
		} else {
			mirror = s3Client
		}
		mux.Replay = replay.NewSource(s3Client, replayFrameInterval)
	}

	var (
		producer runner.EventProducer
		commands runner.CommandSource
	)
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer p.Close()
		producer = p

		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		defer consumer.Close()
		consumer.StartListening(ctx)
		commands = consumer
	}

	var publisher notify.Publisher
	if producer != nil {
		publisher = producer
	}
	scheduler := notify.NewScheduler(notify.PolicyFromConfig(cfg, publisher), m)
	hub := api.NewHub(cfg.HTTP.StreamFrames)
	scheduler.OnNotify(hub.PublishNotification)

	detector := detection.NewClient(cfg.Detection.Endpoint, cfg.Detection.InferenceConfidence, cfg.Detection.Timeout)
	evidence := pipeline.NewEvidenceWriter(store, detLog, mirror, m)

	var r *runner.Runner
	r = runner.New(store, scheduler, producer, commands, m, func(videoSource string) runner.Loop {
		return pipeline.NewLoop(videoSource, pipeline.Deps{
			Source:   mux,
			Inferer:  detector,
			Configs:  store,
			Evidence: evidence,
			Notifier: scheduler,
			Metrics:  m,
			OnFrame:  hub.PublishFrame,
			OnStatus: func(ev models.StatusEvent) {
				hub.PublishStatus(ev)
				r.Status(ev)
			},
		})
	})

	handlers := api.NewHandlers(logStore, scheduler, r, hub)
	if cameras != nil {
		r.SetCameras(cameras)
		handlers.SetCameras(cameras)
	}
	router := api.NewRouter(handlers, m.Handler(), cfg.HTTP.RequestLimit, cfg.HTTP.RequestWindow)

	log.Info().Msgf("Barn monitor for %s, notifications: %s", cfg.SourceID, scheduler.Policy())
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, cfg.HTTP.Addr, router)
	})
	g.Go(func() error {
		evidence.Run(gctx)
		return nil
	})
	g.Go(func() error {
		config.NewWatcher(configFile, store).Start(gctx)
		return nil
	})
	g.Go(func() error {
		r.ListenAndRun(gctx)
		return nil
	})
	g.Go(func() error {
		r.Heartbeat(gctx, heartbeatTick)
		return nil
	})
	g.Go(func() error {
		watchdog(gctx)
		return nil
	})

	var err error
	if camera != "" {
		err = r.StartCamera(gctx, camera)
	} else {
		err = r.StartLoop(gctx, source)
	}
	if err != nil {
		log.Error().Msgf("Failed to start detection: %v", err)
	}
	daemon.SdNotify(false, daemon.SdNotifyReady)

	<-gctx.Done()
	log.Info().Msg("Shutting down...")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	r.StopLoop()
	scheduler.Stop()
	cancel()
	err = g.Wait()
	scheduler.Wait()
	log.Info().Msg("Barn monitor stopped")
	return err
}

// watchdog pings systemd at half the configured WatchdogSec, if any.
func watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
