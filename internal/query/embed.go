package query

import (
	"context"
	"fmt"

	"github.com/standardbeagle/bikidata/internal/semantic"
)

// EmbedderSQL adapts an embedder into the compiler's vector-literal hook.
// Query text is embedded in query mode, matching the asymmetric document
// embeddings built at index time.
func EmbedderSQL(e semantic.Embedder) EmbedSQLFunc {
	return func(ctx context.Context, text string) (string, error) {
		vecs, err := e.Embed(ctx, semantic.KindQuery, []string{text})
		if err != nil {
			return "", err
		}
		if len(vecs) != 1 {
			return "", fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
		}
		return semantic.VectorSQL(vecs[0], e.Dimension()), nil
	}
}
