package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/standardbeagle/bikidata/internal/config"
)

const cohereEmbedURL = "https://api.cohere.com/v2/embed"

// CohereClient implements Embedder against the Cohere v2 embed endpoint.
type CohereClient struct {
	apiKey    string
	model     string
	dimension int
	batchSize int
	baseURL   string
	client    *http.Client
}

// NewCohereClient builds a client from embedding configuration. The API key
// is required; everything else has defaults.
func NewCohereClient(cfg config.Embedding) (*CohereClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere: COHERE_API_KEY is not set")
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultEmbedModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = config.DefaultEmbedDim
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > config.DefaultEmbedBatch {
		batch = config.DefaultEmbedBatch
	}
	return &CohereClient{
		apiKey:    cfg.APIKey,
		model:     model,
		dimension: dim,
		batchSize: batch,
		baseURL:   cohereEmbedURL,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *CohereClient) Dimension() int { return c.dimension }

func (c *CohereClient) BatchSize() int { return c.batchSize }

type cohereRequest struct {
	Model           string   `json:"model"`
	Texts           []string `json:"texts"`
	InputType       string   `json:"input_type"`
	EmbeddingTypes  []string `json:"embedding_types"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type cohereResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
	Message string `json:"message"`
}

// Embed sends one batch to the provider. A batch larger than BatchSize is
// rejected with an error before any request is sent.
func (c *CohereClient) Embed(ctx context.Context, kind Kind, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.batchSize {
		return nil, fmt.Errorf("cohere: batch of %d exceeds ceiling %d", len(texts), c.batchSize)
	}
	inputType := "search_document"
	if kind == KindQuery {
		inputType = "search_query"
	}
	body, err := json.Marshal(cohereRequest{
		Model:           c.model,
		Texts:           texts,
		InputType:       inputType,
		EmbeddingTypes:  []string{"float"},
		OutputDimension: c.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cohere: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere: embed call: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cohere: read response: %w", err)
	}
	var parsed cohereResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("cohere: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Message
		if msg == "" {
			msg = string(raw)
		}
		return nil, fmt.Errorf("cohere: embed returned %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Embeddings.Float) != len(texts) {
		return nil, fmt.Errorf("cohere: got %d vectors for %d texts", len(parsed.Embeddings.Float), len(texts))
	}
	for i, vec := range parsed.Embeddings.Float {
		if len(vec) != c.dimension {
			return nil, fmt.Errorf("cohere: vector %d has dimension %d, want %d", i, len(vec), c.dimension)
		}
	}
	return parsed.Embeddings.Float, nil
}
