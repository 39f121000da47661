// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Engram Authors
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

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "all-minilm"
	// all-minilm output size; overridable for other models.
	defaultDimension = 384
)

// Ollama embeds text through a local Ollama server's /api/embed endpoint.
type Ollama struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

var _ Embedder = (*Ollama)(nil)

// OllamaOption configures the Ollama embedder.
type OllamaOption func(*Ollama)

// WithModel overrides the embedding model name.
func WithModel(model string) OllamaOption {
	return func(o *Ollama) {
		if model != "" {
			o.model = model
		}
	}
}

// WithDimension declares the output dimension of the chosen model.
func WithDimension(dim int) OllamaOption {
	return func(o *Ollama) {
		if dim > 0 {
			o.dimension = dim
		}
	}
}

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(o *Ollama) {
		if c != nil {
			o.client = c
		}
	}
}

// NewOllama creates an Ollama-backed embedder. An empty baseURL falls
// back to the local default.
func NewOllama(baseURL string, opts ...OllamaOption) *Ollama {
	o := &Ollama{
		baseURL:   defaultOllamaURL,
		model:     defaultOllamaModel,
		dimension: defaultDimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	if baseURL != "" {
		o.baseURL = baseURL
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests a single embedding vector for text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(msg))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return result.Embeddings[0], nil
}

func (o *Ollama) Dimension() int { return o.dimension }

func (o *Ollama) Model() string { return o.model }
