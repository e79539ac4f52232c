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
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/lettergate/pkg/config"
)

// GeminiConfig configures the Gemini drafter.
type GeminiConfig struct {
	APIKey string

	// Model is the model name (e.g., "gemini-2.5-flash").
	Model string

	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
}

// Gemini drafts letters with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGemini creates the client. No request is made until Draft.
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Draft(ctx context.Context, req LetterRequest) (*Letter, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt(req), genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, g.generateConfig())
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	body := strings.TrimSpace(resp.Text())
	if body == "" {
		return nil, fmt.Errorf("empty response from Gemini")
	}
	return &Letter{Body: body, Model: g.cfg.Model}, nil
}

func (g *Gemini) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
	}
	if g.cfg.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*g.cfg.Temperature))
	}
	if g.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	return cfg
}

func (g *Gemini) Close() error {
	return nil
}

// NewFromConfig builds the drafter named by drafting.provider.
func NewFromConfig(cfg *config.DraftingConfig) (Drafter, error) {
	switch cfg.Provider {
	case "static":
		return Static{}, nil
	case "gemini", "":
		return NewGemini(GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	}
	return nil, fmt.Errorf("unsupported drafting provider: %s", cfg.Provider)
}
