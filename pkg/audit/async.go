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

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/lettergate/pkg/observability"
)

// AsyncSink moves writes off the request path. When the queue is full the
// record is written synchronously instead of dropped.
type AsyncSink struct {
	next    Sink
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger

	queue chan Record
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts one worker draining a queue of size buffer.
func NewAsyncSink(next Sink, buffer int, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *AsyncSink {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:    next,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan Record, buffer),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for r := range s.queue {
		s.write(context.Background(), r)
	}
}

// Write enqueues r. It returns nil; failures are logged by the worker.
func (s *AsyncSink) Write(ctx context.Context, r Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.closed {
		select {
		case s.queue <- r:
			return nil
		default:
		}
	}
	s.write(context.WithoutCancel(ctx), r)
	return nil
}

func (s *AsyncSink) write(ctx context.Context, r Record) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.next.Write(ctx, r); err != nil {
		s.metrics.RecordAuditFailure(ctx, "async")
		s.logger.Error("Audit write failed", "audit_id", r.ID, "outcome", r.Outcome, "error", err)
	}
}

// Close drains the queue and closes the wrapped sink.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.next.Close()
}
