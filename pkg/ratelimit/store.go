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
	"time"
)

// Store persists window counters.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment counts one request in a single atomic step. A missing or
	// expired counter is replaced by {Count: 1, ResetAt: now + window}.
	Increment(ctx context.Context, key Key, window time.Duration, now time.Time) (Counter, error)

	// Get returns the live counter for key, or a zero Counter when there is
	// none or it has expired.
	Get(ctx context.Context, key Key, now time.Time) (Counter, error)

	// Reset removes the counter for key.
	Reset(ctx context.Context, key Key) error

	// DeleteExpired removes counters whose window ended before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLStore)(nil)
)
