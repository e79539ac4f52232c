// Copyright 2025 Kadir Pekel
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
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/runtime"
)

// ServeCmd starts the HTTP gateway.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides server.port)."`
	Watch bool `help:"Reload rate limit policies when the config changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loader only calls back from Watch, which starts after rt is set.
	var current atomic.Pointer[runtime.Runtime]
	cfg, loader, err := loadConfig(ctx, cli, config.WithOnChange(func(next *config.Config) {
		if rt := current.Load(); rt != nil {
			if err := rt.UpdateRateLimits(next); err != nil {
				slog.Error("Failed to apply reloaded config", "error", err)
			}
		}
	}))
	if err != nil {
		return err
	}
	defer loader.Close()

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			slog.Warn("Shutdown cleanup error", "error", err)
		}
	}()
	current.Store(rt)

	printStartup(cfg, rt.Server().Address())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Run(gctx)
	})
	if c.Watch {
		g.Go(func() error {
			return loader.Watch(gctx)
		})
	}

	err = g.Wait()
	slog.Info("Shutting down")
	return err
}

func printStartup(cfg *config.Config, addr string) {
	fmt.Fprintf(os.Stdout, "\nLetterGate ready\n")
	fmt.Fprintf(os.Stdout, "   Generate:    POST http://%s/v1/letters:generate\n", addr)
	fmt.Fprintf(os.Stdout, "   Credits:     GET  http://%s/v1/credits\n", addr)
	fmt.Fprintf(os.Stdout, "   Health:      http://%s/health\n", addr)
	if cfg.Observability.Metrics.Enabled {
		fmt.Fprintf(os.Stdout, "   Metrics:     http://%s%s\n", addr, cfg.Observability.Metrics.Path)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Fprintf(os.Stdout, "   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.RateLimiting.IsEnabled() {
		fmt.Fprintf(os.Stdout, "   Rate limit:  %s (%s)\n", cfg.RateLimiting.Backend, cfg.RateLimiting.FailureMode)
	} else {
		fmt.Fprintf(os.Stdout, "   Rate limit:  disabled\n")
	}
	fmt.Fprintf(os.Stdout, "   Credits:     %s (free trial: %t)\n", cfg.Credits.Backend, cfg.Credits.FreeTrialEnabled())
	fmt.Fprintf(os.Stdout, "   Audit:       %v\n", cfg.Audit.Sinks)
	fmt.Println("\nPress Ctrl+C to stop")
}
