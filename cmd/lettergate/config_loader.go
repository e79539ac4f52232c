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

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/config/provider"
)

// loadConfig reads the configuration from the source named by the global
// flags. The returned Loader must be closed.
func loadConfig(ctx context.Context, cli *CLI, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	typ, err := provider.ParseType(cli.ConfigType)
	if err != nil {
		return nil, nil, err
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      typ,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	}, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("Loaded configuration", "source", typ, "path", cli.Config)
	return cfg, loader, nil
}
