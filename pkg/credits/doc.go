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

// Package credits decides whether a user may generate a letter and
// consumes the allowance that pays for it.
//
// A user is admitted when one of these holds, checked in order:
//
//   - the user is a super user (nothing is consumed)
//   - the user has never claimed the free trial (the trial is claimed)
//   - the user has an active subscription with credits left (one credit is
//     consumed)
//
// The free-trial marker is durable. Deleting generated letters does not
// reset it.
//
// Consumption is a single conditional update in the Store, so two
// concurrent requests can never both spend the last credit or both claim
// the trial. Three stores are provided: MemoryStore for one process,
// SQLStore for postgres, mysql and sqlite, and the TigerBeetle-backed store
// in the ledger subpackage.
//
// # Usage
//
//	store, _ := credits.NewSQLStore(ctx, db, "postgres")
//	gate, _ := credits.NewGate(store, credits.WithTimeout(5*time.Second))
//
//	d, err := gate.EvaluateAndConsume(ctx, credits.Attempt{
//	    Principal:      credits.Principal{UserID: "u-123"},
//	    IdempotencyKey: requestID,
//	})
//	if err != nil {
//	    // storage fault: deny with 503
//	}
//	if !d.Allowed {
//	    // d.Reason explains the denial
//	}
package credits
