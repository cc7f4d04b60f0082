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
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rssqb/rssqb/internal/config"
	"github.com/rssqb/rssqb/internal/hook"
	"github.com/rssqb/rssqb/internal/supervisor"
	"github.com/rssqb/rssqb/internal/xlog"
	"github.com/rssqb/rssqb/metrics"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "rssqbd",
	Short: "rssqbd watches RSS torrent feeds, classifies releases, and submits them to qBittorrent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.toml", "path to rssqbd's TOML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(*config.ConfigError); ok {
			xlog.Sugar().Errorw("failed to load configuration", "error", err)
			os.Exit(1)
		}
		xlog.Sugar().Errorw("rssqbd exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapCfg := cfg.ZapLogging
	if len(zapCfg.OutputPaths) == 0 {
		zapCfg = xlog.DefaultConfig()
	}
	if err := xlog.Configure(zapCfg); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	scope, closer, err := metrics.New(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer closer.Close()

	sup, err := supervisor.New(configPath, scope)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		xlog.Sugar().Info("shutdown signal received")
		cancel()
	}()

	hookSrv := &http.Server{Addr: ":9091", Handler: hook.NewServer(configPath).Router()}
	go func() {
		if err := hookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			xlog.Sugar().Errorw("hook server stopped", "error", err)
		}
	}()
	defer hookSrv.Close()

	xlog.Sugar().Info("rssqbd starting")
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervisor exited: %w", err)
	}
	xlog.Sugar().Info("rssqbd shut down cleanly")
	return nil
}
