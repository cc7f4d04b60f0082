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

// Package hook implements the completion-hook HTTP endpoint qBittorrent
// calls once a torrent finishes downloading. It resolves the torrent back
// to its classified metadata and hard-links the content into the media
// library in a show/season/episode layout.
//
// Each request re-reads the configuration file and opens its own store and
// qBittorrent session, rather than sharing the supervisor's long-lived
// collaborators: completion hooks fire rarely compared to feed ticks, so
// the extra open/close cost per request is worth trading for a hook server
// that survives a config reload or supervisor restart without coordination.
package hook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/httpx"
	"github.com/rssqb/rssqb/internal/qbittorrent"
	"github.com/rssqb/rssqb/internal/store"
	"github.com/rssqb/rssqb/internal/xlog"

	"github.com/gorilla/mux"
)

// tidSuffix matches the " - tid<id>" suffix submitOne appends to every
// rename string, letting the hook recover the originating TorrentRecord
// from the plain-text name qBittorrent posts back.
var tidSuffix = regexp.MustCompile(`- tid(\d+)\s*$`)

// ErrMissingTorrentID is returned when the posted body has no trailing
// " - tid<id>" suffix.
var ErrMissingTorrentID = fmt.Errorf("hook: no tid suffix in completion body")

// QbClient is the subset of *qbittorrent.Client the hook needs to resolve
// a completed torrent's on-disk content path.
type QbClient interface {
	ListTorrent(ctx context.Context, tag string) ([]qbittorrent.Torrent, error)
}

// Collaborators bundles the per-request store and torrent-client handles
// plus the library root they were opened against, along with a func to
// release them once the request completes.
type Collaborators struct {
	Store  *store.Store
	Qb     QbClient
	LinkTo string
	Close  func()
}

// Opener builds a fresh set of Collaborators for one request. Narrowed to
// an interface-shaped func type so tests can substitute fakes without a
// real config file, database, or qBittorrent session.
type Opener func(ctx context.Context) (Collaborators, error)

// Server handles the completion-hook endpoint.
type Server struct {
	Open Opener
}

// NewServer builds a Server that re-reads the TOML configuration at
// configPath and opens a fresh store and qBittorrent session on every
// request.
func NewServer(configPath string) *Server {
	return &Server{Open: func(ctx context.Context) (Collaborators, error) {
		return openFromConfig(ctx, configPath)
	}}
}

func openFromConfig(ctx context.Context, configPath string) (Collaborators, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return Collaborators{}, err
	}

	st, err := store.Open(cfg.DBURI)
	if err != nil {
		return Collaborators{}, fmt.Errorf("hook: open store: %w", err)
	}

	transport, err := httpx.NewTransport(cfg.HTTPSProxy)
	if err != nil {
		st.Close()
		return Collaborators{}, fmt.Errorf("hook: %w", err)
	}

	qb, err := qbittorrent.New(ctx, cfg.Qb.BaseURL, cfg.Qb.Username, cfg.Qb.Password, cfg.Timeout(), transport)
	if err != nil {
		st.Close()
		return Collaborators{}, fmt.Errorf("hook: qbittorrent login: %w", err)
	}

	return Collaborators{
		Store:  st,
		Qb:     qb,
		LinkTo: cfg.LinkTo,
		Close: func() {
			qb.Close(context.Background())
			st.Close()
		},
	}, nil
}

// Router builds the mux.Router serving the completion-hook endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/qb_hook", s.handleComplete).Methods(http.MethodPost)
	return r
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	torrentID, err := extractTorrentID(string(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	collab, err := s.Open(r.Context())
	if err != nil {
		xlog.Sugar().Errorw("completion hook failed to open collaborators", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer collab.Close()

	if err := link(r.Context(), collab, torrentID, strings.TrimSpace(string(body))); err != nil {
		xlog.Sugar().Errorw("completion hook failed", "torrent_id", torrentID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Write([]byte("ok"))
}

func extractTorrentID(body string) (int64, error) {
	m := tidSuffix.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return 0, ErrMissingTorrentID
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("hook: invalid tid %q: %w", m[1], err)
	}
	return id, nil
}

func link(ctx context.Context, collab Collaborators, torrentID int64, postedName string) error {
	record, err := collab.Store.TorrentRecordByID(torrentID)
	if err != nil {
		return fmt.Errorf("look up torrent record %d: %w", torrentID, err)
	}

	torrents, err := collab.Qb.ListTorrent(ctx, record.Name)
	if err != nil {
		return fmt.Errorf("list torrent %s: %w", record.Name, err)
	}
	var contentPath string
	found := false
	for _, t := range torrents {
		if t.Name == postedName {
			contentPath = t.ContentPath
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no torrent tagged %q matching name %q", record.Name, postedName)
	}

	info, err := os.Stat(contentPath)
	if err != nil {
		return fmt.Errorf("stat content path %s: %w", contentPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("content path %s is not a regular file", contentPath)
	}

	dest := libraryPath(collab.LinkTo, record, filepath.Ext(contentPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o775); err != nil {
		return fmt.Errorf("create library directory: %w", err)
	}
	if err := os.Link(contentPath, dest); err != nil {
		return fmt.Errorf("link %s to %s: %w", contentPath, dest, err)
	}

	xlog.Sugar().Infow("linked completed download", "torrent_id", torrentID, "dest", dest)
	return nil
}

// libraryPath builds the destination path for a completed torrent's single
// content file: {linkTo}/{show} ({year})[ [tmdbid={id}]]/Season {n}/{show} -
// S{season:02}E{episode:02} - {fansub}-{language}.{ext}. The tmdbid segment
// is only appended when the torrent record carries a resolved TMDB id.
func libraryPath(linkTo string, r store.TorrentRecord, ext string) string {
	showDir := fmt.Sprintf("%s (%d)", r.Name, r.Year)
	if r.TmdbID != 0 {
		showDir += fmt.Sprintf(" [tmdbid=%d]", r.TmdbID)
	}
	season := fmt.Sprintf("Season %d", r.Season)
	file := fmt.Sprintf("%s - S%02dE%02d - %s-%s%s", r.Name, r.Season, r.Episode, r.Fansub, r.Language, ext)
	return filepath.Join(linkTo, showDir, season, file)
}
