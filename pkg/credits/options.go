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

package credits

import (
	"github.com/kadirpekel/lettergate/internal/clock"
)

type storeOptions struct {
	clock clock.Clock
}

// StoreOption configures a store.
type StoreOption func(*storeOptions)

// WithStoreClock sets the clock used to decide whether a subscription is
// active and to stamp trial claims.
func WithStoreClock(c clock.Clock) StoreOption {
	return func(o *storeOptions) { o.clock = c }
}
