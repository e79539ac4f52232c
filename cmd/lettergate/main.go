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

// Command lettergate runs the letter generation gateway and its admin tasks.
//
// Usage:
//
//	lettergate serve --config lettergate.yaml
//	lettergate validate lettergate.yaml
//	lettergate credits show alice
//	lettergate credits reset
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/lettergate"
	"github.com/kadirpekel/lettergate/internal/clock"
	"github.com/kadirpekel/lettergate/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the configuration."`
	Credits  CreditsCmd  `cmd:"" help:"Inspect and adjust credit accounts."`

	Config          string   `short:"c" help:"Config file path, or key for remote providers." default:"lettergate.yaml" env:"LETTERGATE_CONFIG"`
	ConfigType      string   `name:"config-type" help:"Config source: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper,zk"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Endpoints of the remote config source." sep:","`

	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`

	clk clock.Clock
}

// clock returns the time source of the admin commands.
func (c *CLI) clock() clock.Clock {
	if c.clk == nil {
		return clock.Real{}
	}
	return c.clk
}

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *VersionCmd) Run() error {
	info := lettergate.GetVersion()
	if c.JSON {
		return printJSON(info)
	}
	fmt.Println(info)
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("lettergate"),
		kong.Description("LetterGate - admission control and credit accounting for letter generation"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
