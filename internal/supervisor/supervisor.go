// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor owns the process-wide collaborators (store, torrent
// client, feed workers) and keeps them in sync with the on-disk
// configuration, rebuilding every worker when the file changes.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rssqb/rssqb/internal/classifier"
	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/feed"
	"github.com/rssqb/rssqb/internal/httpx"
	"github.com/rssqb/rssqb/internal/mailer"
	"github.com/rssqb/rssqb/internal/pipeline"
	"github.com/rssqb/rssqb/internal/qbittorrent"
	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/tmdb"
	"github.com/rssqb/rssqb/internal/worker"
	"github.com/rssqb/rssqb/internal/xlog"

	"github.com/fsnotify/fsnotify"
	"github.com/uber-go/tally"
)

// reloadDebounce coalesces the burst of fsnotify events a single editor save
// typically produces (temp-file write + rename) into one reload.
const reloadDebounce = 1 * time.Second

// Supervisor loads the configuration, builds the shared collaborators every
// feed worker needs, and rebuilds the whole fleet of workers whenever the
// configuration file on disk changes.
type Supervisor struct {
	configPath string
	stats      tally.Scope

	mu      sync.Mutex
	cfg     *config.Config
	store   *store.Store
	qb      *qbittorrent.Client
	workers []*worker.FeedWorker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New loads the configuration at configPath and constructs a Supervisor
// ready to Run. Returns a *config.ConfigError if the file cannot be read,
// parsed, or validated. stats may be nil, in which case worker metrics are
// dropped.
func New(configPath string, stats tally.Scope) (*Supervisor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Supervisor{configPath: configPath, cfg: cfg, stats: stats}, nil
}

// Run starts every feed worker and blocks until ctx is canceled, watching
// configPath for changes and rebuilding the fleet on each one. It returns
// the first fatal error surfaced by any worker, or nil on clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("supervisor: start config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.configPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("supervisor: watch %s: %w", dir, err)
	}

	fatalc := make(chan error, 1)
	if err := s.rebuild(ctx, fatalc); err != nil {
		return err
	}
	defer s.shutdown()

	var debounce *time.Timer
	reloadc := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-fatalc:
			return err

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reloadc <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			xlog.Sugar().Warnw("config watcher error", "error", err)

		case <-reloadc:
			xlog.Sugar().Infow("reloading configuration", "path", s.configPath)
			if err := s.reload(ctx, fatalc); err != nil {
				xlog.Sugar().Errorw("config reload failed", "error", err)
			}
		}
	}
}

// reload loads the configuration file fresh and, if it parses successfully,
// tears down the running fleet and rebuilds it. A bad edit is logged and
// ignored, leaving the previous fleet running undisturbed. If rebuilding
// fails after the old fleet was torn down (for example the store or the
// qBittorrent login fails), no workers run until the next successful reload.
func (s *Supervisor) reload(ctx context.Context, fatalc chan error) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}

	s.shutdown()

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	return s.rebuild(ctx, fatalc)
}

// rebuild constructs the shared collaborators and one FeedWorker per
// configured feed, then starts them all.
func (s *Supervisor) rebuild(ctx context.Context, fatalc chan error) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	feeds, err := cfg.Feeds()
	if err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	st, err := store.Open(cfg.DBURI)
	if err != nil {
		return fmt.Errorf("supervisor: open store: %w", err)
	}

	transport, err := httpx.NewTransport(cfg.HTTPSProxy)
	if err != nil {
		st.Close()
		return fmt.Errorf("supervisor: %w", err)
	}

	qbClient, err := qbittorrent.New(ctx, cfg.Qb.BaseURL, cfg.Qb.Username, cfg.Qb.Password, cfg.Timeout(), transport)
	if err != nil {
		st.Close()
		return fmt.Errorf("supervisor: qbittorrent login: %w", err)
	}

	var m *mailer.Mailer
	if cfg.Email != nil {
		m = mailer.New(cfg.Email)
	}

	runCtx, cancel := context.WithCancel(ctx)

	workers := make([]*worker.FeedWorker, 0, len(feeds))
	for _, f := range feeds {
		p := &pipeline.Pipeline{
			Fetcher:    feed.NewFetcher(cfg.Timeout(), transport),
			Store:      st,
			Classifier: classifier.New(cfg.Gpt, classifier.WithTimeout(cfg.Timeout()), classifier.WithTransport(transport)),
			Enricher:   tmdb.New(cfg.TmdbSecret, st, tmdb.WithTimeout(cfg.Timeout()), tmdb.WithTransport(transport)),
			QbClient:   qbClient,
			Mailer:     m,
		}
		workers = append(workers, worker.New(f, p, m, s.stats))
	}

	s.mu.Lock()
	s.store = st
	s.qb = qbClient
	s.workers = workers
	s.cancel = cancel
	s.mu.Unlock()

	for _, w := range workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := w.Run(runCtx); err != nil {
				select {
				case fatalc <- err:
				default:
				}
			}
		}()
	}

	xlog.Sugar().Infow("supervisor started workers", "count", len(workers))
	return nil
}

// shutdown stops every running worker and releases the torrent-client
// session and store handle, waiting for all worker goroutines to exit.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	workers := s.workers
	qb := s.qb
	st := s.store
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if qb != nil {
		qb.Close(context.Background())
	}
	if st != nil {
		st.Close()
	}
}
