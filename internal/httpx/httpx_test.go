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
package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
)

const _testURL = "http://localhost:0/test"

type stubTransport struct {
	responses []*http.Response
	errs      []error
	i         int
}

func (s *stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	idx := s.i
	s.i++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	var resp *http.Response
	if idx < len(s.responses) {
		resp = s.responses[idx]
	}
	return resp, err
}

func newResponse(status int) *http.Response {
	rec := httptest.NewRecorder()
	rec.WriteHeader(status)
	return rec.Result()
}

func TestSendAcceptedCodes(t *testing.T) {
	require := require.New(t)

	transport := &stubTransport{responses: []*http.Response{newResponse(499)}}
	_, err := Get(_testURL, SendTransport(transport), SendAcceptedCodes(200, 499))
	require.NoError(err)
}

func TestSendRetryOn5XX(t *testing.T) {
	require := require.New(t)

	transport := &stubTransport{responses: []*http.Response{
		newResponse(503), newResponse(502), newResponse(200),
	}}

	start := time.Now()
	_, err := Get(
		_testURL,
		SendRetry(RetryBackoff(backoff.WithMaxRetries(
			backoff.NewConstantBackOff(50*time.Millisecond), 4))),
		SendTransport(transport))
	require.NoError(err)
	require.InDelta(100*time.Millisecond, time.Since(start), float64(50*time.Millisecond))
}

func TestSendRetryExhausted(t *testing.T) {
	require := require.New(t)

	transport := &stubTransport{responses: []*http.Response{
		newResponse(503), newResponse(503), newResponse(503),
	}}

	_, err := Get(
		_testURL,
		SendRetry(RetryBackoff(backoff.WithMaxRetries(
			backoff.NewConstantBackOff(10*time.Millisecond), 2))),
		SendTransport(transport))
	require.Error(err)
	require.Equal(503, err.(StatusError).Status)
}

func TestSendNoRetryOnUnacceptedStatusByDefault(t *testing.T) {
	require := require.New(t)

	transport := &stubTransport{responses: []*http.Response{newResponse(404)}}
	_, err := Get(_testURL, SendTransport(transport))
	require.Error(err)
	require.True(IsNotFound(err))
}

func TestGetQueryArg(t *testing.T) {
	require := require.New(t)
	r := httptest.NewRequest("GET", "localhost:0/?arg=value", nil)
	require.Equal("value", GetQueryArg(r, "arg", "default"))
}

func TestGetQueryArgDefault(t *testing.T) {
	require := require.New(t)
	r := httptest.NewRequest("GET", "localhost:0/", nil)
	require.Equal("default", GetQueryArg(r, "arg", "default"))
}
