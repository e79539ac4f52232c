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

// Package drafting generates letter text. It is called only after a request
// has been admitted.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is returned for requests missing required fields.
var ErrInvalidRequest = errors.New("invalid letter request")

// LetterRequest is what the caller wants written.
type LetterRequest struct {
	Recipient string   `json:"recipient"`
	Subject   string   `json:"subject"`
	Facts     []string `json:"facts,omitempty"`
	Tone      string   `json:"tone,omitempty"`
}

// Validate checks required fields.
func (r LetterRequest) Validate() error {
	if strings.TrimSpace(r.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidRequest)
	}
	return nil
}

// Letter is a generated draft.
type Letter struct {
	Body  string `json:"body"`
	Model string `json:"model"`
}

// Drafter writes letters.
type Drafter interface {
	Draft(ctx context.Context, req LetterRequest) (*Letter, error)
	Close() error
}

const systemInstruction = `You draft formal letters. Write only the letter body: a salutation,
concise paragraphs built from the supplied facts, and a closing. Never invent
facts, dates or amounts that were not supplied.`

// prompt renders the user turn sent to the model.
func prompt(req LetterRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recipient: %s\n", req.Recipient)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if len(req.Facts) > 0 {
		b.WriteString("Facts:\n")
		for _, f := range req.Facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// Static fills a fixed template. It is used for local runs and tests.
type Static struct{}

func (Static) Draft(ctx context.Context, req LetterRequest) (*Letter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nRe: %s\n\n", req.Recipient, req.Subject)
	for _, f := range req.Facts {
		fmt.Fprintf(&b, "%s\n", f)
	}
	b.WriteString("\nSincerely,\n")
	return &Letter{Body: b.String(), Model: "static"}, nil
}

func (Static) Close() error { return nil }
