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

// Package httpx wraps net/http with retry, status-code, and query-argument
// helpers shared by the classifier and the TMDB enricher, plus the proxy
// transport builder used wherever outbound clients are constructed.
package httpx

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
)

// NewTransport returns an http.RoundTripper that routes requests through
// proxyURL, or nil if proxyURL is empty (callers should treat a nil
// transport as "use the default"). Used to wire the configured
// https_proxy into every outbound client the daemon builds.
func NewTransport(proxyURL string) (http.RoundTripper, error) {
	if proxyURL == "" {
		return nil, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: parse proxy url %q: %w", proxyURL, err)
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyURL(u)
	return t, nil
}

// StatusError occurs when sending an HTTP request results in an unexpected
// response status.
type StatusError struct {
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// IsStatus returns true if err is a StatusError with status.
func IsStatus(err error, status int) bool {
	statusErr, ok := err.(StatusError)
	return ok && statusErr.Status == status
}

// IsNotFound returns true if err is a StatusError with 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

type sendOptions struct {
	ctx           context.Context
	transport     http.RoundTripper
	timeout       time.Duration
	body          io.Reader
	headers       map[string]string
	acceptedCodes map[int]bool
	retry         *retryOptions
}

func defaultSendOptions() *sendOptions {
	return &sendOptions{
		ctx:           context.Background(),
		headers:       make(map[string]string),
		acceptedCodes: map[int]bool{http.StatusOK: true},
	}
}

// SendOption configures a Get/Post/Send call.
type SendOption func(*sendOptions)

// SendContext sets the context driving the request's lifetime.
func SendContext(ctx context.Context) SendOption {
	return func(o *sendOptions) { o.ctx = ctx }
}

// SendTransport overrides the http.RoundTripper used to send the request,
// primarily for tests.
func SendTransport(transport http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = transport }
}

// SendTimeout bounds each attempt's lifetime; with SendRetry, every retry
// gets its own full timeout, so the total across retries is not bounded by
// it. Callers should thread the configured global timeout through here rather
// than relying on the zero-value (no timeout) http.Client default.
func SendTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// SendBody attaches a request body.
func SendBody(body io.Reader) SendOption {
	return func(o *sendOptions) { o.body = body }
}

// SendHeader sets a request header.
func SendHeader(key, value string) SendOption {
	return func(o *sendOptions) { o.headers[key] = value }
}

// SendAcceptedCodes overrides the set of status codes which do not result in
// a StatusError. Defaults to just 200.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		o.acceptedCodes = make(map[int]bool)
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendRetry enables retrying the request on network errors or on the status
// codes selected by RetryCodes (by default 500, 502, 503 and 504),
// configured by retryOpts. Other unaccepted status codes fail immediately.
func SendRetry(retryOpts ...RetryOption) SendOption {
	return func(o *sendOptions) {
		r := defaultRetryOptions()
		for _, opt := range retryOpts {
			opt(r)
		}
		o.retry = r
	}
}

type retryOptions struct {
	backoff    backoff.BackOff
	retryCodes map[int]bool
}

func defaultRetryOptions() *retryOptions {
	return &retryOptions{
		backoff:    backoff.NewExponentialBackOff(),
		retryCodes: map[int]bool{http.StatusInternalServerError: true, http.StatusBadGateway: true, http.StatusServiceUnavailable: true, http.StatusGatewayTimeout: true},
	}
}

// RetryOption configures a SendRetry.
type RetryOption func(*retryOptions)

// RetryBackoff overrides the backoff.BackOff used between retries.
func RetryBackoff(b backoff.BackOff) RetryOption {
	return func(o *retryOptions) { o.backoff = b }
}

// RetryCodes overrides the set of status codes which trigger a retry, in
// addition to any transport-level error.
func RetryCodes(codes ...int) RetryOption {
	return func(o *retryOptions) {
		o.retryCodes = make(map[int]bool)
		for _, c := range codes {
			o.retryCodes[c] = true
		}
	}
}

// Get sends a GET request.
func Get(rawURL string, opts ...SendOption) (*http.Response, error) {
	return Send(http.MethodGet, rawURL, opts...)
}

// Post sends a POST request.
func Post(rawURL string, opts ...SendOption) (*http.Response, error) {
	return Send(http.MethodPost, rawURL, opts...)
}

// Send sends a method request to rawURL, applying opts.
func Send(method, rawURL string, opts ...SendOption) (*http.Response, error) {
	o := defaultSendOptions()
	for _, opt := range opts {
		opt(o)
	}

	client := &http.Client{Timeout: o.timeout}
	if o.transport != nil {
		client.Transport = o.transport
	}

	var resp *http.Response
	send := func() error {
		req, err := http.NewRequest(method, rawURL, o.body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("new request: %w", err))
		}
		req = req.WithContext(o.ctx)
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		resp, err = client.Do(req)
		if err != nil {
			if o.retry != nil {
				return err
			}
			return backoff.Permanent(err)
		}
		if !o.acceptedCodes[resp.StatusCode] {
			body, _ := ioutil.ReadAll(resp.Body)
			resp.Body.Close()
			statusErr := StatusError{Method: method, URL: rawURL, Status: resp.StatusCode, Header: resp.Header, Body: body}
			if o.retry != nil && o.retry.retryCodes[resp.StatusCode] {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		return nil
	}

	if o.retry == nil {
		if err := send(); err != nil {
			if perm, ok := err.(*backoff.PermanentError); ok {
				return nil, perm.Err
			}
			return nil, err
		}
		return resp, nil
	}

	var lastErr error
	op := func() error {
		lastErr = send()
		return lastErr
	}
	if err := backoff.Retry(op, o.retry.backoff); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Err
		}
		return nil, lastErr
	}
	return resp, nil
}

// GetQueryArg returns the value of query argument arg from r, or defaultVal
// if arg is absent.
func GetQueryArg(r *http.Request, arg, defaultVal string) string {
	if v := r.URL.Query().Get(arg); v != "" {
		return v
	}
	return defaultVal
}

// BuildURL joins base and query params into a single URL string.
func BuildURL(base string, query url.Values) string {
	if len(query) == 0 {
		return base
	}
	return base + "?" + query.Encode()
}
