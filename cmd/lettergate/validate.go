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
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Path string `arg:"" optional:"" name:"path" help:"Configuration file (defaults to --config)." placeholder:"PATH"`

	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the configuration with defaults applied and env vars resolved."`
}

type validateResult struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	src := *cli
	if c.Path != "" {
		src.Config = c.Path
		src.ConfigType = "file"
	}

	cfg, loader, err := loadConfig(context.Background(), &src)
	if err != nil {
		c.report(validateResult{File: src.Config, Error: err.Error()})
		return fmt.Errorf("configuration is invalid")
	}
	defer loader.Close()

	if c.PrintConfig {
		return printConfig(c.Format, cfg)
	}
	c.report(validateResult{Valid: true, File: src.Config})
	return nil
}

func (c *ValidateCmd) report(r validateResult) {
	if c.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}
	if r.Valid {
		fmt.Printf("%s: valid\n", r.File)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", r.File, r.Error)
}

func printConfig(format string, cfg *config.Config) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
