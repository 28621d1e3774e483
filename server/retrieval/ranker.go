// Package retrieval contains the pure ranking primitives used by the
// intelligence query engine: cosine similarity over stored embeddings and a
// keyword matcher used when no vectors are available.
package retrieval

import (
	"math"
	"sort"

	"github.com/hrygo/recall/store"
)

// RankedConversation is a conversation with its relevance score.
type RankedConversation struct {
	Conversation *store.Conversation
	Score        float64
}

// CosineSimilarity computes the cosine similarity of two vectors.
//
// Returns 0 when either vector has zero magnitude or when the dimensions
// differ, so the result is always a finite value in [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankByVector scores candidates against the query vector and returns them
// in descending score order. Candidates without an embedding, or whose
// embedding dimension does not match the query vector, are excluded from
// the ranking and returned separately so the caller can route them through
// keyword matching instead.
//
// The sort is stable: equal scores keep the candidates' input order.
func RankByVector(queryVector []float32, candidates []*store.Conversation) (ranked []RankedConversation, unrankable []*store.Conversation) {
	ranked = make([]RankedConversation, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(queryVector) {
			unrankable = append(unrankable, c)
			continue
		}
		ranked = append(ranked, RankedConversation{
			Conversation: c,
			Score:        CosineSimilarity(queryVector, c.Embedding),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, unrankable
}
