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

// Package qbittorrent implements a session-oriented client for the
// qBittorrent Web API, used to submit releases and look up their download
// path on completion.
package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rssqb/rssqb/internal/xlog"
)

// closeTimeout bounds the logout call Close issues against a context
// independent of the caller's, so a canceled caller context can't skip it.
const closeTimeout = 10 * time.Second

// AddTorrentRequest carries the parameters for a torrents/add call. Fields
// left at their zero value are omitted from the request.
type AddTorrentRequest struct {
	URLs                  []string
	Torrents              [][]byte
	SavePath              string
	ContentLayout         string
	Category              string
	Tags                  []string
	Rename                string
	AutoTorrentManagement *bool
	RatioLimit            *float64
}

// Torrent is a single entry returned by torrents/info.
type Torrent struct {
	ContentPath string `json:"content_path"`
	Name        string `json:"name"`
}

// Client is an exclusive qBittorrent Web API session: a logged-in client
// must eventually be Close'd so the session is logged out. It is not safe
// to share across goroutines that might outlive each other's use of it.
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
}

// New opens a Client against baseURL and logs in. Requests are bounded by
// timeout and, if transport is non-nil, routed through it -- callers
// should thread the configured global outbound-request timeout and
// https_proxy through here. The returned Client holds an exclusive
// session; call Close when done with it.
func New(ctx context.Context, baseURL, username, password string, timeout time.Duration, transport http.RoundTripper) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: new cookie jar: %w", err)
	}
	c := &Client{
		http:     &http.Client{Jar: jar, Timeout: timeout, Transport: transport},
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
	}
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) apiURL(category, method string) string {
	return fmt.Sprintf("%s/api/v2/%s/%s", c.baseURL, category, method)
}

// Login performs (or re-performs) form-based authentication. It is
// idempotent.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("auth", "login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("qbittorrent: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qbittorrent: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("qbittorrent: login failed, status %d", resp.StatusCode)
	}
	return nil
}

// Logout invalidates the session. Callers must run this to completion even
// if the surrounding task is being cancelled, so it accepts its own
// short-lived context rather than reusing one that may already be done.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("auth", "logout"), nil)
	if err != nil {
		return fmt.Errorf("qbittorrent: build logout request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("qbittorrent: logout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("qbittorrent: logout failed, status %d", resp.StatusCode)
	}
	return nil
}

// Close logs the session out. The session is not copyable; its destruction
// always triggers a logout, using a fresh timeout independent of ctx so a
// caller cancelling ctx cannot skip it.
func (c *Client) Close(ctx context.Context) error {
	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := c.Logout(logoutCtx); err != nil {
		xlog.Sugar().Warnw("qbittorrent logout on close failed", "error", err)
		return err
	}
	return nil
}

// AddTorrent submits req as a multipart torrents/add call.
func (c *Client) AddTorrent(ctx context.Context, req AddTorrentRequest) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if len(req.URLs) > 0 {
		if err := w.WriteField("urls", strings.Join(req.URLs, "\n")); err != nil {
			return fmt.Errorf("qbittorrent: write urls field: %w", err)
		}
	}
	for _, t := range req.Torrents {
		part, err := w.CreateFormFile("torrents", "torrent")
		if err != nil {
			return fmt.Errorf("qbittorrent: create torrents part: %w", err)
		}
		if _, err := part.Write(t); err != nil {
			return fmt.Errorf("qbittorrent: write torrents part: %w", err)
		}
	}
	if req.SavePath != "" {
		w.WriteField("savepath", req.SavePath)
	}
	if req.ContentLayout != "" {
		w.WriteField("contentLayout", req.ContentLayout)
	}
	if req.Category != "" {
		w.WriteField("category", req.Category)
	}
	if len(req.Tags) > 0 {
		w.WriteField("tags", strings.Join(req.Tags, ","))
	}
	if req.Rename != "" {
		w.WriteField("rename", req.Rename)
	}
	if req.AutoTorrentManagement != nil {
		w.WriteField("autoTMM", strconv.FormatBool(*req.AutoTorrentManagement))
	}
	if req.RatioLimit != nil {
		w.WriteField("ratioLimit", strconv.FormatFloat(*req.RatioLimit, 'f', -1, 64))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("qbittorrent: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("torrents", "add"), &buf)
	if err != nil {
		return fmt.Errorf("qbittorrent: build add torrent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("qbittorrent: add torrent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("qbittorrent: add torrent failed, status %d", resp.StatusCode)
	}
	return nil
}

// ListTorrent returns the torrents tagged with tag.
func (c *Client) ListTorrent(ctx context.Context, tag string) ([]Torrent, error) {
	u := c.apiURL("torrents", "info") + "?" + url.Values{"tag": {tag}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: build list torrent request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent: list torrent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("qbittorrent: list torrent failed, status %d", resp.StatusCode)
	}
	var torrents []Torrent
	if err := json.NewDecoder(resp.Body).Decode(&torrents); err != nil {
		return nil, fmt.Errorf("qbittorrent: decode list torrent response: %w", err)
	}
	return torrents, nil
}
