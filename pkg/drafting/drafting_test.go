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

package drafting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/lettergate/pkg/config"
)

func TestLetterRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     LetterRequest
		wantErr bool
	}{
		{"complete", LetterRequest{Recipient: "Acme Corp", Subject: "Refund"}, false},
		{"no recipient", LetterRequest{Subject: "Refund"}, true},
		{"blank subject", LetterRequest{Recipient: "Acme", Subject: "  "}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatic_Draft(t *testing.T) {
	letter, err := Static{}.Draft(context.Background(), LetterRequest{
		Recipient: "Acme Corp",
		Subject:   "Order 1042",
		Facts:     []string{"The parcel arrived damaged."},
	})
	require.NoError(t, err)
	assert.Equal(t, "static", letter.Model)
	assert.Contains(t, letter.Body, "Dear Acme Corp,")
	assert.Contains(t, letter.Body, "Re: Order 1042")
	assert.Contains(t, letter.Body, "The parcel arrived damaged.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Static{}.Draft(ctx, LetterRequest{Recipient: "a", Subject: "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrompt(t *testing.T) {
	p := prompt(LetterRequest{Recipient: "R", Subject: "S", Tone: "firm", Facts: []string{"one", "two"}})
	assert.Equal(t, "Recipient: R\nSubject: S\nTone: firm\nFacts:\n- one\n- two\n", p)
}

func TestGemini_Config(t *testing.T) {
	_, err := NewGemini(GeminiConfig{})
	assert.Error(t, err)

	temp := 0.4
	g, err := NewGemini(GeminiConfig{APIKey: "test-key", Temperature: &temp, MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", g.cfg.Model)

	gc := g.generateConfig()
	require.NotNil(t, gc.Temperature)
	assert.InDelta(t, 0.4, *gc.Temperature, 1e-6)
	assert.Equal(t, int32(512), gc.MaxOutputTokens)
	require.NotNil(t, gc.SystemInstruction)
	assert.Contains(t, gc.SystemInstruction.Parts[0].Text, "formal letters")

	_, err = g.Draft(context.Background(), LetterRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest, "validation happens before any call")
}

func TestNewFromConfig(t *testing.T) {
	d, err := NewFromConfig(&config.DraftingConfig{Provider: "static"})
	require.NoError(t, err)
	assert.IsType(t, Static{}, d)

	_, err = NewFromConfig(&config.DraftingConfig{Provider: "gpt"})
	assert.Error(t, err)
}
