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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"":          TypeFile,
		"file":      TypeFile,
		"Consul":    TypeConsul,
		"etcd":      TypeEtcd,
		"zk":        TypeZookeeper,
		"zookeeper": TypeZookeeper,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseType("s3")
	assert.Error(t, err)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(ProviderConfig{Type: TypeFile})
	assert.Error(t, err)
}

func TestNew_RemoteProvidersNeedEndpoints(t *testing.T) {
	_, err := New(ProviderConfig{Type: TypeEtcd, Path: "/lettergate/config"})
	assert.Error(t, err)

	_, err = New(ProviderConfig{Type: TypeZookeeper, Path: "/lettergate/config"})
	assert.Error(t, err)
}

func TestFileProvider_LoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lettergate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0o644))

	p, err := NewFileProvider(path)
	require.NoError(t, err)
	defer p.Close()

	data, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: a\n", string(data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := p.Watch(ctx)
	require.NoError(t, err)
	require.NotNil(t, changes)

	require.NoError(t, os.WriteFile(path, []byte("name: b\n"), 0o644))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}

	data, err = p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name: b\n", string(data))
}

func TestFileProvider_MissingFile(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	_, err = p.Load(context.Background())
	assert.Error(t, err)
}
