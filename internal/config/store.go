package config

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Store holds the current configuration snapshot. Snapshots are never mutated
// after publication: a reload builds a new Config and swaps the pointer.
type Store struct {
	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []func(*Config)
}

func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot. Callers must treat it as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap publishes a new snapshot and notifies subscribers.
func (s *Store) Swap(cfg *Config) {
	s.current.Store(cfg)

	s.mu.Lock()
	subs := append([]func(*Config){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// Subscribe registers fn to be called after every Swap.
func (s *Store) Subscribe(fn func(*Config)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Watcher polls the configuration file and swaps the store on change.
type Watcher struct {
	path  string
	store *Store
	mtime time.Time
}

func NewWatcher(path string, store *Store) *Watcher {
	w := &Watcher{path: path, store: store}
	if info, err := os.Stat(path); err == nil {
		w.mtime = info.ModTime()
	}
	return w
}

func (w *Watcher) Start(ctx context.Context) {
	interval := w.store.Current().ReloadInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Config watcher stopped")
			return
		case <-ticker.C:
			w.Poll()
			if next := w.store.Current().ReloadInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Poll reloads the file if its modification time advanced. It reports
// whether a new snapshot was published.
func (w *Watcher) Poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	if !info.ModTime().After(w.mtime) {
		return false
	}
	w.mtime = info.ModTime()

	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.Warn().Msgf("Config: reload of %s failed, keeping last good configuration: %v", w.path, err)
		return false
	}
	w.store.Swap(cfg)
	log.Info().Msgf("Config: reloaded %s", w.path)
	return true
}
