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

// Package audit records one terminal outcome per admission attempt.
//
// Sinks never fail a request. A write error is logged and counted by the
// caller; the admission decision stands.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Outcome is the terminal result of an admission attempt.
type Outcome string

const (
	OutcomeAllowed         Outcome = "allowed"
	OutcomeDeniedRateLimit Outcome = "denied_rate_limit"
	OutcomeDeniedNoCredit  Outcome = "denied_no_credit"
	OutcomeError           Outcome = "error"
)

// Record is one audit entry.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id"`
	Endpoint  string    `json:"endpoint"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink stores audit records.
type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// LogSink writes records as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, r Record) error {
	s.logger.InfoContext(ctx, "Admission audited",
		"audit_id", r.ID,
		"user", r.UserID,
		"client", r.ClientID,
		"endpoint", r.Endpoint,
		"outcome", r.Outcome,
		"reason", r.Reason,
		"at", r.Timestamp,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink fans a record out to every sink. All sinks are attempted.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write(context.Context, Record) error { return nil }
func (Discard) Close() error                        { return nil }
