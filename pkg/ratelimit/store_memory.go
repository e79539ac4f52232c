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

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory.
// Counts are only correct when a single process serves all requests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[Key]*Counter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]*Counter)}
}

func (s *MemoryStore) Increment(_ context.Context, key Key, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok || c.Expired(now) {
		c = &Counter{ResetAt: now.Add(window)}
		s.data[key] = c
	}
	c.Count++
	return *c, nil
}

func (s *MemoryStore) Get(_ context.Context, key Key, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[key]
	if !ok {
		return Counter{}, nil
	}
	if c.Expired(now) {
		delete(s.data, key)
		return Counter{}, nil
	}
	return *c, nil
}

func (s *MemoryStore) Reset(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, c := range s.data {
		if c.ResetAt.Before(before) {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[Key]*Counter)
	return nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
