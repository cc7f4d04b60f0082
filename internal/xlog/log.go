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

// Package xlog provides a process-wide zap logger, configured once at
// startup. Components log through the package-level logger returned by
// Sugar.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	_mu     sync.Mutex
	_logger = zap.NewNop().Sugar()
)

// Configure builds the process-wide logger from config and installs it as
// the package-level logger used by Sugar, Fatalf, Errorf and the other
// helpers. Until Configure succeeds the package-level logger is a no-op.
func Configure(config zap.Config) error {
	l, err := config.Build()
	if err != nil {
		return err
	}
	_mu.Lock()
	_logger = l.Sugar()
	_mu.Unlock()
	return nil
}

// Sugar returns the process-wide sugared logger.
func Sugar() *zap.SugaredLogger {
	_mu.Lock()
	defer _mu.Unlock()
	return _logger
}

// Infof logs at info level on the process-wide logger.
func Infof(format string, args ...interface{}) { Sugar().Infof(format, args...) }

// Info logs at info level on the process-wide logger.
func Info(args ...interface{}) { Sugar().Info(args...) }

// Warnf logs at warn level on the process-wide logger.
func Warnf(format string, args ...interface{}) { Sugar().Warnf(format, args...) }

// Errorf logs at error level on the process-wide logger.
func Errorf(format string, args ...interface{}) { Sugar().Errorf(format, args...) }

// Fatalf logs at error level and exits the process with status 1.
func Fatalf(format string, args ...interface{}) {
	Sugar().Errorf(format, args...)
	os.Exit(1)
}

// Fatal logs err at error level and exits the process with status 1, unless
// err is nil.
func Fatal(err error) {
	if err == nil {
		return
	}
	Sugar().Error(err)
	os.Exit(1)
}

// DefaultConfig returns a production zap.Config with a readable console
// encoder, matching the "disable JSON logging because it's unreadable"
// convention used across rssqbd's entrypoints.
func DefaultConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
