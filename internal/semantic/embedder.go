// Package semantic abstracts the vector-embedding provider behind a small
// capability interface and carries the SQL plumbing for fixed-width float
// vectors. The store never depends on a concrete provider; the Cohere client
// in this package is one implementation.
package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Kind selects the provider-side embedding mode. Queries and documents are
// embedded asymmetrically by retrieval models.
type Kind string

const (
	KindQuery    Kind = "query"
	KindDocument Kind = "document"
)

// Embedder turns texts into fixed-dimension vectors. Implementations must
// return exactly one vector per input text, each of the configured dimension.
type Embedder interface {
	Embed(ctx context.Context, kind Kind, texts []string) ([][]float32, error)
	Dimension() int
	BatchSize() int
}

// VectorSQL renders a vector as an engine-side typed array literal, e.g.
// CAST([0.1, 0.2] AS FLOAT[2]). Vectors are spliced into SQL rather than
// bound: the engine's cosine-distance operator requires the fixed-length
// array type and the literal form carries it.
func VectorSQL(vec []float32, dim int) string {
	var b strings.Builder
	b.WriteString("CAST([")
	for i, v := range vec {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	fmt.Fprintf(&b, "] AS FLOAT[%d])", dim)
	return b.String()
}
