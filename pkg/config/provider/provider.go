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

// Package provider abstracts where the configuration document lives.
//
// A provider returns the raw document from a local file or a key in
// consul, etcd or zookeeper, and signals when it changes so rate limit
// policies can be reloaded without a restart.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Type identifies the config source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// ParseType converts a flag value to a Type. Empty means file.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "file":
		return TypeFile, nil
	case "consul":
		return TypeConsul, nil
	case "etcd":
		return TypeEtcd, nil
	case "zookeeper", "zk":
		return TypeZookeeper, nil
	}
	return "", fmt.Errorf("unknown provider type: %s", s)
}

// Provider is a config source. Implementations are safe for concurrent use.
type Provider interface {
	Type() Type

	// Load returns the current raw document.
	Load(ctx context.Context) ([]byte, error)

	// Watch returns a channel that receives after each change and is
	// closed when ctx ends. A nil channel means watching is unsupported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects and addresses a provider.
type ProviderConfig struct {
	Type Type

	// Path is a file path, or the key or znode holding the document.
	Path string

	// Endpoints lists server addresses for remote providers.
	Endpoints []string
}

// New builds the provider described by opts.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path)
	}
	return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
}
