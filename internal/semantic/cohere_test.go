package semantic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/bikidata/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *CohereClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewCohereClient(config.Embedding{APIKey: "test-key", Model: "embed-v4.0", Dimension: 4, BatchSize: 2})
	require.NoError(t, err)
	c.baseURL = srv.URL
	return c
}

func TestNewCohereClientRequiresKey(t *testing.T) {
	_, err := NewCohereClient(config.Embedding{})
	assert.Error(t, err)
}

func TestEmbedRoundTrip(t *testing.T) {
	var got cohereRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := map[string]any{"embeddings": map[string]any{"float": [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}}}
		json.NewEncoder(w).Encode(resp)
	})

	vecs, err := c.Embed(context.Background(), KindDocument, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, "search_document", got.InputType)
	assert.Equal(t, []string{"alpha", "beta"}, got.Texts)
	assert.Equal(t, float32(1), vecs[0][0])
}

func TestEmbedQueryInputType(t *testing.T) {
	var got cohereRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := map[string]any{"embeddings": map[string]any{"float": [][]float32{{0, 0, 0, 1}}}}
		json.NewEncoder(w).Encode(resp)
	})
	_, err := c.Embed(context.Background(), KindQuery, []string{"what is alpha"})
	require.NoError(t, err)
	assert.Equal(t, "search_query", got.InputType)
}

func TestEmbedRejectsOversizedBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not be sent")
	})
	_, err := c.Embed(context.Background(), KindDocument, []string{"a", "b", "c"})
	assert.ErrorContains(t, err, "ceiling")
}

func TestEmbedSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"message": "invalid model"})
	})
	_, err := c.Embed(context.Background(), KindDocument, []string{"a"})
	assert.ErrorContains(t, err, "invalid model")
}

func TestEmbedValidatesDimension(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"embeddings": map[string]any{"float": [][]float32{{1, 2}}}}
		json.NewEncoder(w).Encode(resp)
	})
	_, err := c.Embed(context.Background(), KindDocument, []string{"a"})
	assert.ErrorContains(t, err, "dimension")
}

func TestVectorSQL(t *testing.T) {
	assert.Equal(t, "CAST([0.5, -1, 0.25] AS FLOAT[3])", VectorSQL([]float32{0.5, -1, 0.25}, 3))
}
