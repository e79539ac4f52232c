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

package observability

import (
	"fmt"
	"time"
)

// Config configures tracing and metrics.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter is "otlp" (gRPC) or "stdout". Default: otlp.
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" jsonschema:"enum=otlp,enum=stdout"`

	// Endpoint is the OTLP collector address. Default: localhost:4317.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// SamplingRate is the sampled fraction, 0 to 1. Default: 1.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`

	ServiceName    string            `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version,omitempty" json:"service_version,omitempty"`
	Insecure       *bool             `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Path is where metrics are served. Default: /metrics.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Namespace prefixes metric names. Default: lettergate.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks both sections.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks the tracing section.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	switch c.Exporter {
	case "otlp":
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the otlp exporter")
		}
	case "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	return nil
}

// IsInsecure reports whether the exporter skips TLS.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

// SetDefaults applies default values.
func (c *MetricsConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate checks the metrics section.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path is required when metrics are enabled")
	}
	return nil
}
