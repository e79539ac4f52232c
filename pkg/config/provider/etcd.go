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

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider reads the document from an etcd key.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider dials the given endpoints.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdProvider{client: client, key: key}, nil
}

func (p *EtcdProvider) Type() Type { return TypeEtcd }

// Load reads the key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch signals on every put to the key.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	wch := p.client.Watch(clientv3.WithRequireLeader(ctx), p.key)

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				slog.Warn("etcd watch error", "key", p.key, "error", err)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					notify(ch)
					break
				}
			}
		}
	}()
	return ch, nil
}

// Close closes the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
