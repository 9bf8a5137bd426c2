package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Capitan-Parrot/barn-monitor/internal/config"
	"github.com/Capitan-Parrot/barn-monitor/internal/metrics"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const (
	evidenceQueueSize = 64
	drainTimeout      = 5 * time.Second
)

// DetectionLogger is the persistence collaborator.
type DetectionLogger interface {
	LogDetection(ctx context.Context, imagePath string, confidence float64, matched bool, details, sourceID, className string) error
}

// Mirror copies saved evidence to object storage.
type Mirror interface {
	UploadEvidence(ctx context.Context, bucket, sourceID, localPath string) (string, error)
}

type persistJob struct {
	path  string
	event models.DetectionEvent
}

// EvidenceWriter saves evidence images synchronously and hands the structured
// record to a single background worker, so records are persisted in frame order.
type EvidenceWriter struct {
	configs *config.Store
	db      DetectionLogger
	mirror  Mirror
	metrics *metrics.Metrics
	jobs    chan persistJob
}

func NewEvidenceWriter(configs *config.Store, db DetectionLogger, mirror Mirror, m *metrics.Metrics) *EvidenceWriter {
	return &EvidenceWriter{
		configs: configs,
		db:      db,
		mirror:  mirror,
		metrics: m,
		jobs:    make(chan persistJob, evidenceQueueSize),
	}
}

// Save writes image under the configured directory and queues the record.
func (w *EvidenceWriter) Save(ctx context.Context, image []byte, event models.DetectionEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := w.configs.Current().Storage.SaveDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create evidence directory: %w", err)
	}

	path := filepath.Join(dir, evidenceName(event))
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	log.Info().Msgf("Evidence: saved detection image %s", path)

	event.EvidencePath = path
	select {
	case w.jobs <- persistJob{path: path, event: event}:
	default:
		w.metrics.IncEvidence(false)
		log.Error().Msgf("Evidence: persistence queue full, record for %s dropped", path)
	}
	return path, nil
}

// Run persists queued records until ctx is done, then drains what is left.
func (w *EvidenceWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case job := <-w.jobs:
			w.persist(ctx, job)
		}
	}
}

func (w *EvidenceWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-w.jobs:
			w.persist(ctx, job)
		default:
			return
		}
	}
}

func (w *EvidenceWriter) persist(ctx context.Context, job persistJob) {
	e := job.event
	details := fmt.Sprintf("%s behavior detected", e.ClassLabel)
	if w.db != nil {
		if err := w.db.LogDetection(ctx, job.path, e.Confidence, true, details, e.SourceID, e.ClassLabel); err != nil {
			w.metrics.IncEvidence(false)
			log.Error().Msgf("Evidence: log detection %s: %v", job.path, err)
		} else {
			w.metrics.IncEvidence(true)
		}
	}

	if w.mirror == nil {
		return
	}
	bucket := w.configs.Current().Storage.Bucket
	if bucket == "" {
		return
	}
	if _, err := w.mirror.UploadEvidence(ctx, bucket, e.SourceID, job.path); err != nil {
		log.Warn().Msgf("Evidence: mirror %s: %v", job.path, err)
	}
}

// detect_2006-01-02_15-04-05_<id>.jpg
func evidenceName(e models.DetectionEvent) string {
	id := strings.ReplaceAll(e.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = fmt.Sprintf("%09d", e.Timestamp.Nanosecond())
	}
	return fmt.Sprintf("detect_%s_%s.jpg", e.Timestamp.Format("2006-01-02_15-04-05"), id)
}
