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
package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/pipeline"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

// countingRunner returns errs[i] (mod len(errs)) on its i-th call, counting
// total invocations so tests can assert tick cadence without sleeping on a
// real clock.
type countingRunner struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (r *countingRunner) Run(ctx context.Context, f config.RssFeed) (pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if len(r.errs) == 0 {
		return pipeline.Result{}, nil
	}
	return pipeline.Result{}, r.errs[i%len(r.errs)]
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func testFeed() config.RssFeed {
	f := config.RssFeed{Site: config.SiteComicat, Search: "s"}
	f.Name = "f"
	f.IntervalS = 1
	return f
}

func TestFeedWorkerTicksOnInterval(t *testing.T) {
	runner := &countingRunner{}
	mockClock := clock.NewMock()
	w := &FeedWorker{Feed: testFeed(), Pipeline: runner, Clock: mockClock, stopc: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(context.Background())
	}()

	for i := 0; i < 3; i++ {
		mockClock.Add(time.Second)
	}

	require.Eventually(t, func() bool { return runner.count() >= 3 }, time.Second, time.Millisecond)

	w.Stop()
	wg.Wait()
}

func TestFeedWorkerResetsFailureCounterOnSuccess(t *testing.T) {
	runner := &countingRunner{errs: []error{errors.New("boom"), errors.New("boom"), nil, errors.New("boom"), errors.New("boom")}}
	mockClock := clock.NewMock()
	w := &FeedWorker{Feed: testFeed(), Pipeline: runner, Clock: mockClock, stopc: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = w.Run(context.Background())
	}()

	for i := 0; i < 5; i++ {
		mockClock.Add(time.Second)
	}
	require.Eventually(t, func() bool { return runner.count() >= 5 }, time.Second, time.Millisecond)

	w.Stop()
	wg.Wait()
	require.NoError(t, runErr, "a success between two pairs of failures must reset the counter below the fatal threshold")
}

func TestFeedWorkerFatalAfterThreeConsecutiveFailures(t *testing.T) {
	boom := errors.New("boom")
	runner := &countingRunner{errs: []error{boom}}
	mockClock := clock.NewMock()
	w := &FeedWorker{Feed: testFeed(), Pipeline: runner, Clock: mockClock, stopc: make(chan struct{})}

	resultc := make(chan error, 1)
	go func() {
		resultc <- w.Run(context.Background())
	}()

	for i := 0; i < 3; i++ {
		mockClock.Add(time.Second)
	}

	select {
	case err := <-resultc:
		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		require.Equal(t, "f", fatal.Feed)
	case <-time.After(time.Second):
		t.Fatal("worker did not return after three consecutive failures")
	}
}

func TestFeedWorkerStopReturnsCleanly(t *testing.T) {
	runner := &countingRunner{}
	w := &FeedWorker{Feed: testFeed(), Pipeline: runner, Clock: clock.NewMock(), stopc: make(chan struct{})}

	resultc := make(chan error, 1)
	go func() { resultc <- w.Run(context.Background()) }()

	w.Stop()
	select {
	case err := <-resultc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestFeedWorkerContextCancelReturnsCleanly(t *testing.T) {
	runner := &countingRunner{}
	w := &FeedWorker{Feed: testFeed(), Pipeline: runner, Clock: clock.NewMock(), stopc: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	resultc := make(chan error, 1)
	go func() { resultc <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-resultc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not return after context cancellation")
	}
}
