// Package embeddings defines the text embedding capability used by the
// vector retrieval tier and the monthly re-indexing job.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts a batch of texts into vector embeddings, one per
	// input, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the width of the vectors this embedder produces.
	Dimensions() int

	// Close releases any resources held by the embedder.
	Close() error
}

// Adapt fits a vector to the given width: longer vectors are truncated,
// shorter ones zero-padded. Needed when the configured index width differs
// from the provider's native width.
func Adapt(vec []float32, dims int) []float32 {
	if dims <= 0 || len(vec) == dims {
		return vec
	}
	if len(vec) > dims {
		return vec[:dims]
	}
	out := make([]float32, dims)
	copy(out, vec)
	return out
}
