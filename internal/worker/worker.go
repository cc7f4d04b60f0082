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

// Package worker runs one feed's pipeline on a steady tick, escalating to a
// notification and a fatal exit after sustained failure.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/mailer"
	"github.com/rssqb/rssqb/internal/pipeline"
	"github.com/rssqb/rssqb/internal/xlog"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// Runner is the subset of *pipeline.Pipeline a FeedWorker drives. Satisfied
// by *pipeline.Pipeline; narrowed to an interface so tests can substitute a
// fake cycle outcome without standing up real collaborators.
type Runner interface {
	Run(ctx context.Context, f config.RssFeed) (pipeline.Result, error)
}

// maxConsecutiveFailures is the number of back-to-back failed ticks a worker
// tolerates before it notifies and exits.
const maxConsecutiveFailures = 3

// FatalError is returned by Run when a feed has failed maxConsecutiveFailures
// ticks in a row.
type FatalError struct {
	Feed string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("worker: feed %s failed %d consecutive times, last error: %s", e.Feed, maxConsecutiveFailures, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// FeedWorker periodically drives a Pipeline for a single feed. Ticks never
// run concurrently with each other: if a cycle overruns its interval, the
// next tick fires immediately once the running cycle returns. The ticker
// holds at most one pending tick, so when a cycle overruns by more than one
// interval the extra missed ticks are dropped, not replayed.
type FeedWorker struct {
	Feed     config.RssFeed
	Pipeline Runner
	Mailer   *mailer.Mailer
	Clock    clock.Clock
	Stats    tally.Scope

	stopOnce sync.Once
	stopc    chan struct{}
}

// New builds a FeedWorker using the real wall clock. stats may be
// tally.NoopScope if metrics are disabled.
func New(feed config.RssFeed, p *pipeline.Pipeline, m *mailer.Mailer, stats tally.Scope) *FeedWorker {
	return &FeedWorker{
		Feed:     feed,
		Pipeline: p,
		Mailer:   m,
		Clock:    clock.New(),
		Stats:    stats.Tagged(map[string]string{"feed": feed.Name}),
		stopc:    make(chan struct{}),
	}
}

// Stop signals Run to return after its current tick, if any, completes.
func (w *FeedWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopc) })
}

// Run ticks the feed's pipeline at its configured interval until ctx is
// canceled, Stop is called, or the feed fails maxConsecutiveFailures ticks
// in a row, in which case Run notifies (if a mailer is configured) and
// returns a *FatalError.
func (w *FeedWorker) Run(ctx context.Context) error {
	if w.stopc == nil {
		w.stopc = make(chan struct{})
	}
	if w.Clock == nil {
		w.Clock = clock.New()
	}

	ticker := w.Clock.Ticker(w.Feed.Interval())
	defer ticker.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ticker.C:
			if err := w.tick(ctx); err != nil {
				consecutiveFailures++
				w.counter("tick.failure").Inc(1)
				xlog.Sugar().Warnw("feed cycle failed", "feed", w.Feed.Name, "consecutive_failures", consecutiveFailures, "error", err)
				if consecutiveFailures >= maxConsecutiveFailures {
					fatal := &FatalError{Feed: w.Feed.Name, Err: err}
					w.notifyFatal(fatal)
					return fatal
				}
				continue
			}
			w.counter("tick.success").Inc(1)
			consecutiveFailures = 0
		case <-w.stopc:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// counter returns a no-op counter when Stats was never set, so tests that
// build a FeedWorker by struct literal don't need to supply one.
func (w *FeedWorker) counter(name string) tally.Counter {
	if w.Stats == nil {
		return tally.NoopScope.Counter(name)
	}
	return w.Stats.Counter(name)
}

func (w *FeedWorker) tick(ctx context.Context) error {
	_, err := w.Pipeline.Run(ctx, w.Feed)
	return err
}

func (w *FeedWorker) notifyFatal(err *FatalError) {
	if w.Mailer == nil {
		return
	}
	subject := fmt.Sprintf("feed %s disabled after repeated failed attempts", w.Feed.Name)
	if sendErr := w.Mailer.Send(subject, err.Error()); sendErr != nil {
		xlog.Sugar().Warnw("failed to send failure notification email", "error", sendErr)
	}
}
