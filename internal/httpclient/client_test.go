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

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func get(t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
	c := New(WithBaseDelay(time.Millisecond))

	resp, err := get(t, c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusNotFound)
	c := New(WithBaseDelay(time.Millisecond))

	resp, err := get(t, c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ConservativeRetryStopsEarly(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusBadGateway)
	c := New(WithBaseDelay(time.Millisecond), WithMaxRetries(5))

	resp, err := get(t, c, srv.URL)
	var retryErr *RetryableError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, http.StatusBadGateway, retryErr.StatusCode)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(conservativeAttempts+1), calls.Load())
}

func TestDo_MaxRetries(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusServiceUnavailable)
	c := New(WithBaseDelay(time.Millisecond), WithMaxRetries(2))

	_, err := get(t, c, srv.URL)
	var retryErr *RetryableError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ResendsBody(t *testing.T) {
	var bodies []string
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		bodies = append(bodies, buf.String())
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := New(WithBaseDelay(time.Millisecond)).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	srv, _ := statusSequence(t, http.StatusServiceUnavailable)
	c := New(WithBaseDelay(time.Hour), WithMaxDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	assert.Zero(t, ParseRetryAfter(h, now))

	h.Set("Retry-After", "120")
	assert.Equal(t, 2*time.Minute, ParseRetryAfter(h, now))

	h.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(h, now))

	h.Set("Retry-After", "soon")
	assert.Zero(t, ParseRetryAfter(h, now))
}

func TestConfigureTLS_MissingCA(t *testing.T) {
	_, err := ConfigureTLS(&TLSConfig{CACertificate: "/nonexistent/ca.pem"})
	assert.Error(t, err)

	tr, err := ConfigureTLS(nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}
