package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const remoteTimeout = 30 * time.Second

// postJSON sends in as a JSON body and decodes a 200 response into out.
// Any other status is an error carrying the first KiB of the body.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder defaults to http://localhost:11434 and nomic-embed-text
// (768 dims); all-minilm reports 384.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaEmbedder{
		url:    baseURL + "/api/embeddings",
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: remoteTimeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var res ollamaResponse
	if err := postJSON(ctx, e.client, e.url, "", ollamaRequest{Model: e.model, Prompt: text}, &res); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(res.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding")
	}
	return res.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	url    string
	apiKey string
	model  string
	dims   int
	client *http.Client
}

type openaiRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		url:    baseURL + "/embeddings",
		apiKey: apiKey,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: remoteTimeout},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var res openaiResponse
	if err := postJSON(ctx, e.client, e.url, e.apiKey, openaiRequest{Input: text, Model: e.model}, &res); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(res.Data) == 0 || len(res.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return res.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }
