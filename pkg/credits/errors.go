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
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits means the conditional update found too few
	// credits. It is a denial, not a fault.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNoSubscription means the user has no active subscription.
	ErrNoSubscription = errors.New("no active subscription")

	// ErrStorageUnavailable wraps every infrastructure fault. It must never
	// be read as permission to proceed.
	ErrStorageUnavailable = errors.New("credit storage unavailable")

	ErrInvalidAmount = errors.New("invalid credit amount")
	ErrInvalidUser   = errors.New("user id is required")
	ErrNotSupported  = errors.New("operation not supported by this store")

	// ErrCreditDenied is matched by every DenialError.
	ErrCreditDenied = errors.New("credit denied")
)

// DenialError carries a denied decision through the error channel.
type DenialError struct {
	Decision Decision
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("credit denied: %s", e.Decision.Reason)
}

func (e *DenialError) Unwrap() error {
	return ErrCreditDenied
}

// storageError wraps err in ErrStorageUnavailable unless it already is.
func storageError(op string, err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// StorageError is storageError for store implementations in other packages.
func StorageError(op string, err error) error {
	return storageError(op, err)
}
