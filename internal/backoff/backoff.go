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

// Package backoff implements a simple exponential backoff with an overall
// deadline, used wherever a bounded number of attempts -- rather than an
// unbounded retry-on-status loop -- is the right shape (e.g. classifier
// model escalation).
package backoff

import (
	"errors"
	"math/rand"
	"time"
)

// Config configures a Backoff.
type Config struct {
	Min          time.Duration `yaml:"min"`
	Max          time.Duration `yaml:"max"`
	Factor       float64       `yaml:"factor"`
	NoJitter     bool          `yaml:"no_jitter"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.Factor == 0 {
		c.Factor = 2
	}
	return c
}

// Backoff computes a sequence of delays bounded by an overall deadline.
type Backoff struct {
	config Config
}

// New creates a Backoff from config.
func New(config Config) *Backoff {
	return &Backoff{config.applyDefaults()}
}

// Attempts returns an iterator over backoff attempts, bounded by
// config.RetryTimeout. The first attempt always fires immediately
// regardless of timeout.
func (b *Backoff) Attempts() *Attempts {
	return &Attempts{
		config: b.config,
		start:  time.Now(),
	}
}

// Attempts is a stateful iterator: call WaitForNext in a loop, checking Err
// after it returns false.
type Attempts struct {
	config Config
	start  time.Time
	n      int
	err    error
}

// WaitForNext blocks until the next attempt should run, returning false once
// the projected elapsed time would exceed RetryTimeout. The very first
// attempt always fires immediately, regardless of timeout.
func (a *Attempts) WaitForNext() bool {
	if a.n == 0 {
		a.n++
		return true
	}
	elapsed := time.Since(a.start)
	delay := a.delay(a.n)
	if elapsed+delay > a.config.RetryTimeout {
		a.err = errors.New("backoff: retry timeout exceeded")
		return false
	}
	time.Sleep(delay)
	a.n++
	return true
}

// Err returns the reason Attempts stopped, non-nil once WaitForNext returns
// false.
func (a *Attempts) Err() error {
	return a.err
}

func (a *Attempts) delay(attempt int) time.Duration {
	d := float64(a.config.Min)
	for i := 1; i < attempt; i++ {
		d *= a.config.Factor
	}
	if a.config.Max > 0 && d > float64(a.config.Max) {
		d = float64(a.config.Max)
	}
	if !a.config.NoJitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}
