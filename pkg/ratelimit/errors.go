// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrRateLimitExceeded is matched by every LimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreUnavailable wraps counter store failures.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrInvalidPolicy is returned for non-positive windows or limits.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)

// LimitError carries a denied decision through the error channel for
// callers that prefer one.
type LimitError struct {
	Endpoint string
	Decision Decision
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s",
		e.Endpoint, e.Decision.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// IsRateLimitError reports whether err is or wraps a LimitError.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// DecisionFromError extracts the decision from a LimitError.
func DecisionFromError(err error) (Decision, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.Decision, true
	}
	return Decision{}, false
}
