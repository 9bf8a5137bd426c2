// Package replay plays a recorded feed stored as JPEG objects under an S3 prefix.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"sort"
	"strings"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/capture"
	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/Capitan-Parrot/barn-monitor/internal/s3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// ObjectStore is the part of the S3 client a replay needs.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

type Source struct {
	store ObjectStore
	// FrameInterval paces playback. Zero plays as fast as frames are consumed.
	FrameInterval time.Duration
}

func NewSource(store ObjectStore, frameInterval time.Duration) *Source {
	return &Source{store: store, FrameInterval: frameInterval}
}

func (s *Source) Open(ctx context.Context, source string) (capture.Stream, error) {
	bucket, prefix, err := s3.SplitURL(source)
	if err != nil {
		return nil, err
	}

	keys, err := s.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", source, err)
	}
	keys = lo.Filter(keys, func(k string, _ int) bool {
		k = strings.ToLower(k)
		return strings.HasSuffix(k, ".jpg") || strings.HasSuffix(k, ".jpeg")
	})
	if len(keys) == 0 {
		return nil, fmt.Errorf("no frames under %s", source)
	}
	sort.Strings(keys)

	log.Info().Msgf("Replay: %d frames under %s", len(keys), source)
	return &stream{ctx: ctx, store: s.store, bucket: bucket, keys: keys, interval: s.FrameInterval}, nil
}

type stream struct {
	ctx      context.Context
	store    ObjectStore
	bucket   string
	keys     []string
	next     int
	interval time.Duration
	last     time.Time
}

func (s *stream) Read() (models.Frame, error) {
	if s.next >= len(s.keys) || s.ctx.Err() != nil {
		return models.Frame{}, capture.ErrEndOfStream
	}

	if s.interval > 0 && !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			select {
			case <-s.ctx.Done():
				return models.Frame{}, capture.ErrEndOfStream
			case <-time.After(wait):
			}
		}
	}

	key := s.keys[s.next]
	s.next++

	data, err := s.store.GetObject(s.ctx, s.bucket, key)
	if err != nil {
		log.Warn().Msgf("Replay: get %s failed: %v", key, err)
		return models.Frame{}, capture.ErrEndOfStream
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Frame{}, fmt.Errorf("decode %s: %w", key, err)
	}

	s.last = time.Now()
	return models.Frame{
		Seq:       uint64(s.next),
		Timestamp: s.last,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      data,
	}, nil
}

func (s *stream) Close() error {
	s.next = len(s.keys)
	return nil
}
