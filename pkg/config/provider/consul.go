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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider reads the document from a consul KV key and uses
// blocking queries to detect changes.
type ConsulProvider struct {
	kv  *api.KV
	key string
}

// NewConsulProvider connects to the first endpoint, or the consul default
// address (CONSUL_HTTP_ADDR) when none is given.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{kv: client.KV(), key: key}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

// Load reads the key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch long-polls the key and signals when its modify index advances.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, meta, err := p.kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		index := meta.LastIndex
		for ctx.Err() == nil {
			opts := (&api.QueryOptions{WaitIndex: index, WaitTime: 5 * time.Minute}).WithContext(ctx)
			_, meta, err := p.kv.Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Consul watch failed, retrying", "key", p.key, "error", err)
				sleepCtx(ctx, 2*time.Second)
				continue
			}
			// Index reset means the cluster state was restored.
			if meta.LastIndex < index {
				index = 0
				continue
			}
			if meta.LastIndex > index {
				index = meta.LastIndex
				notify(ch)
			}
		}
	}()
	return ch, nil
}

func (p *ConsulProvider) Close() error { return nil }

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var _ Provider = (*ConsulProvider)(nil)
