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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/lettergate/pkg/config"
	"github.com/kadirpekel/lettergate/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"
)

// initLogger installs the default logger.
// Priority: CLI flags > env vars > config section > defaults.
func initLogger(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) (func(), error) {
	var fromCfg config.LoggerConfig
	if cfg != nil {
		fromCfg = *cfg
	}

	level := firstNonEmpty(cliLevel, os.Getenv(LogLevelEnvVar), fromCfg.Level, "info")
	file := firstNonEmpty(cliFile, os.Getenv(LogFileEnvVar), fromCfg.File)
	format := firstNonEmpty(cliFormat, os.Getenv(LogFormatEnvVar), fromCfg.Format, string(logger.FormatSimple))

	check := config.LoggerConfig{Level: level, Format: format}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	cleanup := func() {}
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
